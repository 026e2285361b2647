package cube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/miyo/internal/logging"
)

// API paths exposed by the cube
const (
	PathLink         = "/api/link"
	PathCircuitAll   = "/api/circuit/all"
	PathDeviceStatus = "/api/device/status"
	PathIrrigation   = "/api/circuit/irrigation"
	PathWinter       = "/api/circuit/winter"
)

// Client talks to one cube and owns its session.
// A Client is safe for concurrent use.
type Client struct {
	// BaseURL is the base URL for the cube (e.g., "http://192.168.1.50")
	BaseURL string

	transport *Transport
	ip        string

	mu       sync.RWMutex
	username string
}

// NewClient creates a client for the cube at ip
// ip: Cube IP address or host name (e.g., "192.168.1.50")
func NewClient(ip string) *Client {
	return &Client{
		BaseURL:   "http://" + ip,
		transport: NewTransport(DefaultTimeout),
		ip:        ip,
	}
}

// NewClientWithURL creates a client with a full base URL
// baseURL: Full base URL (e.g., "http://192.168.1.50:8080")
func NewClientWithURL(baseURL string) *Client {
	ip := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		ip = u.Hostname()
	}
	return &Client{
		BaseURL:   baseURL,
		transport: NewTransport(DefaultTimeout),
		ip:        ip,
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.transport.SetTimeout(timeout)
}

// IP returns the cube address this client talks to
func (c *Client) IP() string {
	return c.ip
}

// Username returns the current API token, or "" when unauthenticated
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// IsAuthenticated reports whether the client holds an API token
func (c *Client) IsAuthenticated() bool {
	return c.Username() != ""
}

// Session returns a copy of the current session
func (c *Client) Session() Session {
	return Session{
		IP:       c.ip,
		Username: c.Username(),
		Timeout:  c.transport.Timeout(),
	}
}

// ReleaseSession forgets the API token
func (c *Client) ReleaseSession() {
	c.setUsername("")
}

func (c *Client) setUsername(username string) {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
}

// requireAuthentication returns the token or a NotAuthenticated error
func (c *Client) requireAuthentication() (string, error) {
	username := c.Username()
	if username == "" {
		return "", &DeviceError{
			Type:     ErrTypeNotAuthenticated,
			Message:  "linking is required before interacting with the cube",
			DeviceIP: c.ip,
		}
	}
	return username, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	if len(query) == 0 {
		return c.BaseURL + path
	}
	return c.BaseURL + path + "?" + query.Encode()
}

// Link requests a new API token. The pairing button on the cube must have
// been pressed shortly before, otherwise the cube answers with an error
// status and Link returns a PairingNotConfirmed error.
func (c *Client) Link(ctx context.Context) (string, error) {
	if c.IsAuthenticated() {
		return "", &DeviceError{
			Type:     ErrTypeAlreadyLinked,
			Message:  "already linked",
			DeviceIP: c.ip,
		}
	}

	result, err := c.transport.Post(ctx, c.endpoint(PathLink, nil), "")
	if err != nil {
		return "", withDeviceIP(err, c.ip)
	}

	var resp linkResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return "", NewAPIError("unexpected link response", err)
	}
	if resp.Status == statusError {
		return "", NewPairingError("pairing button not pressed")
	}

	token := extractLinkToken(result.Body, resp)
	if token == "" {
		return "", NewAPIError("link response carries no token", nil)
	}

	c.setUsername(token)
	logging.Info("Linked with cube",
		zap.String("cube", c.ip),
		zap.String("token", logging.MaskToken(token)))

	return token, nil
}

// extractLinkToken reads the token from its fixed position in the raw body,
// which is where the cube always places the braced UUID. The decoded fields
// are used when the body does not have that layout.
func extractLinkToken(body []byte, resp linkResponse) string {
	if len(body) >= linkTokenOffsetEnd {
		candidate := string(body[linkTokenOffsetStart:linkTokenOffsetEnd])
		if _, err := uuid.Parse(candidate); err == nil {
			return candidate
		}
	}
	if resp.APIKey != "" {
		return resp.APIKey
	}
	return resp.Token
}

// Authenticate installs username as the API token and verifies it with a
// circuit listing. When the cube answers but rejects the call, the token is
// cleared and an Unauthorized error is returned. When the cube cannot be
// reached, the transport error is returned and the token stays installed.
func (c *Client) Authenticate(ctx context.Context, username string) error {
	c.setUsername(username)

	if _, err := c.ListCircuits(ctx); err != nil {
		if IsTransportError(err) {
			return err
		}
		c.setUsername("")
		return NewUnauthorizedError("token rejected by cube", err)
	}

	return nil
}

// ListCircuits fetches every circuit with its state and, for circuits with an
// attached sensor, the sensor readings. Circuits are returned sorted by
// normalized id.
func (c *Client) ListCircuits(ctx context.Context) ([]Circuit, error) {
	username, err := c.requireAuthentication()
	if err != nil {
		return nil, err
	}

	query := url.Values{"apiKey": {username}}
	result, err := c.transport.Post(ctx, c.endpoint(PathCircuitAll, query), "")
	if err != nil {
		return nil, withDeviceIP(err, c.ip)
	}

	env, err := decodeEnvelope(result)
	if err != nil {
		return nil, err
	}
	if env.isError() {
		return nil, c.apiError("circuit listing failed", result)
	}

	var params circuitsParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, NewAPIError("unexpected circuit listing", err)
	}

	keys := make([]string, 0, len(params.Circuits))
	for key := range params.Circuits {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	circuits := make([]Circuit, 0, len(keys))
	for _, key := range keys {
		circuit, err := params.Circuits[key].toCircuit(key)
		if err != nil {
			return nil, NewAPIError("unexpected circuit state", err)
		}

		if circuit.HasSensor() {
			if err := c.fetchSensor(ctx, username, &circuit); err != nil {
				return nil, err
			}
		}

		circuits = append(circuits, circuit)
	}

	sort.SliceStable(circuits, func(i, j int) bool {
		return circuits[i].NormalizedID < circuits[j].NormalizedID
	})

	return circuits, nil
}

// fetchSensor reads the attached sensor's state into the circuit
func (c *Client) fetchSensor(ctx context.Context, username string, circuit *Circuit) error {
	query := url.Values{
		"apiKey":   {username},
		"deviceId": {circuit.SensorID},
	}
	result, err := c.transport.Get(ctx, c.endpoint(PathDeviceStatus, query))
	if err != nil {
		return withDeviceIP(err, c.ip)
	}

	env, err := decodeEnvelope(result)
	if err != nil {
		return err
	}
	if env.isError() {
		return c.apiError(fmt.Sprintf("sensor %s status failed", circuit.SensorID), result)
	}

	var params deviceParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return NewAPIError("unexpected sensor status", err)
	}

	if err := applySensorStates(circuit, params.Device.StateTypes); err != nil {
		return NewAPIError("unexpected sensor state", err)
	}
	return nil
}

// SetIrrigation starts or stops irrigation on a circuit. circuitID is the
// raw cube id. A rejection by the cube, typically because winter mode is
// active, is returned as an Irrigation error.
func (c *Client) SetIrrigation(ctx context.Context, circuitID string, on bool) error {
	username, err := c.requireAuthentication()
	if err != nil {
		return err
	}

	mode := "stop"
	if on {
		mode = "start"
	}

	query := url.Values{
		"apiKey":    {username},
		"mode":      {mode},
		"circuitId": {circuitID},
	}
	result, err := c.transport.Post(ctx, c.endpoint(PathIrrigation, query), "")
	if err != nil {
		return withDeviceIP(err, c.ip)
	}

	env, err := decodeEnvelope(result)
	if err != nil {
		return err
	}
	if env.isError() {
		irrErr := NewIrrigationError("irrigation could not be turned " + onOff(on))
		irrErr.StatusCode = result.StatusCode
		irrErr.DeviceIP = c.ip
		return irrErr
	}

	return nil
}

// SetWinterMode enables or disables winter mode on a circuit. circuitID is
// the raw cube id.
func (c *Client) SetWinterMode(ctx context.Context, circuitID string, on bool) error {
	username, err := c.requireAuthentication()
	if err != nil {
		return err
	}

	query := url.Values{
		"apiKey":    {username},
		"winter":    {strconv.FormatBool(on)},
		"circuitId": {circuitID},
	}
	result, err := c.transport.Post(ctx, c.endpoint(PathWinter, query), "")
	if err != nil {
		return withDeviceIP(err, c.ip)
	}

	env, err := decodeEnvelope(result)
	if err != nil {
		return err
	}
	if env.isError() {
		return c.apiError("winter mode could not be turned "+onOff(on), result)
	}

	return nil
}

func (c *Client) apiError(message string, result *Result) *DeviceError {
	apiErr := NewAPIError(message, nil)
	apiErr.StatusCode = result.StatusCode
	apiErr.DeviceIP = c.ip
	return apiErr
}

func decodeEnvelope(result *Result) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(result.Body, &env); err != nil {
		apiErr := NewAPIError("cube returned unexpected result", err)
		apiErr.StatusCode = result.StatusCode
		return envelope{}, apiErr
	}
	return env, nil
}

func withDeviceIP(err error, ip string) error {
	var devErr *DeviceError
	if errors.As(err, &devErr) && devErr.DeviceIP == "" {
		devErr.DeviceIP = ip
	}
	return err
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
