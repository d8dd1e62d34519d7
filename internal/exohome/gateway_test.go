package exohome

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeGateway is an in-process websocket server speaking the vendor
// frame protocol. It applies `set` mutations synchronously so tests can
// verify the set-then-refresh ordering contract.
type fakeGateway struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	devices map[string]map[string]any // device id -> properties bundle (get response)
	listing []map[string]any          // lst_device response data

	// validToken is the bearer token accepted by ws login. Empty
	// accepts anything.
	validToken string

	// strayBefore maps a request name to the number of unrelated frames
	// pushed before its response.
	strayBefore map[string]int

	// failGet holds device ids whose `get` answers with an error status.
	failGet map[string]bool

	// stallOn holds request names swallowed without a reply, once each,
	// so the caller's read deadline expires.
	stallOn map[string]bool

	// dropOn holds request names that close the connection instead of
	// replying, once each.
	dropOn map[string]bool

	loginCount int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:           t,
		devices:     make(map[string]map[string]any),
		strayBefore: make(map[string]int),
		failGet:     make(map[string]bool),
		stallOn:     make(map[string]bool),
		dropOn:      make(map[string]bool),
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.server.Close)
	return g
}

// wsBase returns the ws:// base URL, mimicking the vendor's WSS base
// (the /phone path is appended by the client).
func (g *fakeGateway) wsBase() string {
	return strings.Replace(g.server.URL, "http://", "ws://", 1)
}

// addDevice registers a device with a listing entry and a get bundle.
func (g *fakeGateway) addDevice(id string, deviceType int, status map[string]any, fields []string, fieldsRange []map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.listing = append(g.listing, map[string]any{
		"device": id,
		"properties": map[string]any{
			"displayName": "Device " + id,
			"connected":   true,
			"profile": map[string]any{
				"esh": map[string]any{
					"device_id":   deviceType,
					"model":       "model-" + id,
					"brand":       "SAMPO",
					"esh_version": "4.0",
				},
				"module": map[string]any{
					"local_ip":         "192.168.1.50",
					"firmware_version": "2.0.0",
				},
			},
		},
	})

	bundle := map[string]any{
		"device": id,
		"status": status,
		"fields": fields,
	}
	if fieldsRange != nil {
		bundle["fields_range"] = fieldsRange
	}
	g.devices[id] = bundle
}

func (g *fakeGateway) setListing(listing []map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listing = listing
}

// stallNext makes the gateway swallow the next frame carrying the
// request name without answering it.
func (g *fakeGateway) stallNext(request string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stallOn[request] = true
}

// dropNext makes the gateway close the connection on the next frame
// carrying the request name.
func (g *fakeGateway) dropNext(request string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropOn[request] = true
}

func (g *fakeGateway) loginCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loginCount
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req RequestFrame
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		g.mu.Lock()
		if g.stallOn[req.Request] {
			delete(g.stallOn, req.Request)
			g.mu.Unlock()
			continue
		}
		if g.dropOn[req.Request] {
			delete(g.dropOn, req.Request)
			g.mu.Unlock()
			return
		}
		if n := g.strayBefore[req.Request]; n > 0 {
			g.strayBefore[req.Request] = 0
			g.mu.Unlock()
			for i := 0; i < n; i++ {
				g.write(conn, map[string]any{
					"status":   "ok",
					"response": "device_change",
					"data":     map[string]any{"device": "unrelated"},
				})
			}
			g.mu.Lock()
		}
		g.mu.Unlock()

		switch req.Request {
		case RequestLogin:
			g.mu.Lock()
			g.loginCount++
			token, _ := req.Data["token"].(string)
			ok := g.validToken == "" || token == g.validToken
			g.mu.Unlock()
			status := StatusOK
			if !ok {
				status = "error"
			}
			g.write(conn, map[string]any{"status": status, "response": RequestLogin})

		case RequestProvisionToken:
			g.write(conn, map[string]any{
				"status":   StatusOK,
				"response": RequestProvisionToken,
				"data":     map[string]any{"token": "provision-xyz", "expires_in": 2592000},
			})

		case RequestGetUserData, RequestGetMe:
			g.write(conn, map[string]any{
				"status":   StatusOK,
				"response": req.Request,
				"data":     map[string]any{"email": "user@example.com"},
			})

		case RequestListDevices:
			g.mu.Lock()
			listing := g.listing
			g.mu.Unlock()
			g.write(conn, map[string]any{
				"status":   StatusOK,
				"response": RequestListDevices,
				"data":     listing,
			})

		case RequestGet:
			g.mu.Lock()
			fail := g.failGet[req.Device]
			bundle := g.devices[req.Device]
			g.mu.Unlock()
			if fail || bundle == nil {
				g.write(conn, map[string]any{"status": "error", "response": RequestGet})
				continue
			}
			g.write(conn, map[string]any{
				"status":   StatusOK,
				"response": RequestGet,
				"data":     bundle,
			})

		case RequestSet:
			// Apply the mutation synchronously so the next get sees it.
			g.mu.Lock()
			if bundle, ok := g.devices[req.Device]; ok {
				status, _ := bundle["status"].(map[string]any)
				if status == nil {
					status = make(map[string]any)
					bundle["status"] = status
				}
				for code, value := range req.Data {
					status[code] = value
				}
			}
			g.mu.Unlock()
			g.write(conn, map[string]any{"status": StatusOK, "response": RequestSet})

		default:
			g.write(conn, map[string]any{"status": "error", "response": req.Request})
		}
	}
}

func (g *fakeGateway) write(conn *websocket.Conn, frame map[string]any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		g.t.Errorf("fake gateway: marshaling frame: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		g.t.Logf("fake gateway: write failed: %v", err)
	}
}

// newTestClient wires a Client against the fake gateway with a token
// that never expires during the test.
func newTestClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	c := NewClient(Options{
		Email:    "user@example.com",
		Password: "hunter2",
		WSSBase:  g.wsBase(),
	})
	c.RestoreSession("token-abc", "user-1", 4102444800) // far future
	return c
}
