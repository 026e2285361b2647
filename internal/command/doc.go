// Package command translates user intents into cube calls.
//
// A Batch is built with the fluent helpers and dispatched against a circuit:
//
//	batch := command.Batch{}.TurnOn()
//	err := command.NewDispatcher(client).Dispatch(ctx, circuit, batch)
//
// Only the first command of a batch is inspected, so each batch maps to
// exactly one request to the cube.
package command
