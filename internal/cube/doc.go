// Package cube provides an HTTP client for the MIYO cube irrigation controller.
//
// The cube exposes a small JSON API on the local network. Every call except
// pairing carries an API token in the apiKey query parameter, and every
// response is wrapped in an envelope whose status field reports failures:
// a body with status "error" is an application failure regardless of the
// HTTP status code.
//
// # Pairing
//
// A token is issued by POST /api/link after the pairing button on the cube
// has been pressed:
//
//	client := cube.NewClient("192.168.1.50")
//	token, err := client.Link(ctx)
//	if cube.IsPairingError(err) {
//	    // ask the user to press the button and try again
//	}
//
// A token obtained earlier is installed and verified with Authenticate.
//
// # Circuits
//
// ListCircuits returns a snapshot of every circuit. Circuits with an attached
// sensor get one extra request for their temperature, moisture and
// brightness readings. SetIrrigation and SetWinterMode issue commands by the
// raw circuit id.
//
// # Errors
//
// All failures are *DeviceError values and match the package sentinels with
// errors.Is:
//
//	ErrTransport           cube unreachable or timed out
//	ErrAPI                 cube answered with an error status or a bad body
//	ErrUnauthorized        token rejected
//	ErrPairingNotConfirmed link attempted without the button press
//	ErrIrrigation          irrigation command refused (winter mode)
//	ErrNotAuthenticated    call made without a token
package cube
