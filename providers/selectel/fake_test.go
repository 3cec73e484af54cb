package selectel

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

const testToken = "test-token"

// fakeAPI is an in-memory Selectel Domains v2 API.
type fakeAPI struct {
	t *testing.T

	mu       sync.Mutex
	zones    []Zone
	rrsets   map[string][]RRSet // zone uuid -> rrsets
	requests []string           // "METHOD /path"

	// failDelete makes DELETE of these rrset ids return the given status.
	failDelete map[string]int
	// listNotFound makes GET rrset of these zone ids answer 404.
	listNotFound map[string]bool
	// failCreate makes POST rrset return this status when non-zero.
	failCreate int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{
		t:            t,
		rrsets:       make(map[string][]RRSet),
		failDelete:   make(map[string]int),
		listNotFound: make(map[string]bool),
	}
	server := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeAPI) addZone(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.zones = append(f.zones, Zone{UUID: id, Name: name})
	return id
}

func (f *fakeAPI) addRRSet(zoneID string, rrset RRSet) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	rrset.UUID = uuid.NewString()
	f.rrsets[zoneID] = append(f.rrsets[zoneID], rrset)
	return rrset.UUID
}

func (f *fakeAPI) zoneRRSets(zoneID string) []RRSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RRSet(nil), f.rrsets[zoneID]...)
}

func (f *fakeAPI) zoneByName(name string) (Zone, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, z := range f.zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

func (f *fakeAPI) calls(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func paginate[T any](w http.ResponseWriter, r *http.Request, items []T) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = PaginationLimit
	}

	end := min(offset+limit, len(items))
	start := min(offset, end)
	next := 0
	if end < len(items) {
		next = end
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":       len(items),
		"next_offset": next,
		"result":      items[start:end],
	})
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.Header.Get("X-Auth-Token") != testToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "zones":
		f.serveZones(w, r)
	case len(parts) == 3 && parts[0] == "zones" && parts[2] == "rrset":
		f.serveRRSets(w, r, parts[1])
	case len(parts) == 4 && parts[0] == "zones" && parts[2] == "rrset":
		f.serveRRSet(w, r, parts[1], parts[3])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	}
}

func (f *fakeAPI) serveZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		zones := append([]Zone(nil), f.zones...)
		f.mu.Unlock()
		paginate(w, r, zones)
	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "description": err.Error()})
			return
		}
		if _, exists := f.zoneByName(body.Name); exists {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
			return
		}
		id := f.addZone(body.Name)
		writeJSON(w, http.StatusOK, Zone{UUID: id, Name: body.Name})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAPI) serveRRSets(w http.ResponseWriter, r *http.Request, zoneID string) {
	f.mu.Lock()
	_, known := f.rrsets[zoneID]
	for _, z := range f.zones {
		if z.UUID == zoneID {
			known = true
		}
	}
	hidden := f.listNotFound[zoneID] && r.Method == http.MethodGet
	f.mu.Unlock()
	if !known || hidden {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		paginate(w, r, f.zoneRRSets(zoneID))
	case http.MethodPost:
		if f.failCreate != 0 {
			writeJSON(w, f.failCreate, map[string]string{"error": "bad_request", "description": "create refused"})
			return
		}
		var rrset RRSet
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &rrset); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "description": err.Error()})
			return
		}
		for _, existing := range f.zoneRRSets(zoneID) {
			if existing.Name == rrset.Name && existing.Type == rrset.Type {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
				return
			}
		}
		rrset.UUID = f.addRRSet(zoneID, rrset)
		writeJSON(w, http.StatusOK, rrset)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAPI) serveRRSet(w http.ResponseWriter, r *http.Request, zoneID, rrsetID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := -1
	for i, rrset := range f.rrsets[zoneID] {
		if rrset.UUID == rrsetID {
			idx = i
		}
	}
	if idx < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if status := f.failDelete[rrsetID]; status != 0 {
			writeJSON(w, status, map[string]string{"error": "failed"})
			return
		}
		list := f.rrsets[zoneID]
		f.rrsets[zoneID] = append(list[:idx], list[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPatch:
		var body updateRRSetRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "description": err.Error()})
			return
		}
		f.rrsets[zoneID][idx].TTL = body.TTL
		f.rrsets[zoneID][idx].Records = body.Records
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(server *httptest.Server, token string) *Client {
	return NewClient(token,
		WithAPIEndpoint(server.URL),
		WithHTTPClient(server.Client()),
		WithLogger(testLogger()),
	)
}

func newTestProvider(t *testing.T, server *httptest.Server, updateInPlace bool) *Provider {
	t.Helper()
	p, err := New("selectel-test", &Config{
		Token:         testToken,
		Endpoint:      server.URL,
		UpdateInPlace: updateInPlace,
	},
		WithProviderLogger(testLogger()),
		WithClient(newTestClient(server, testToken)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}
