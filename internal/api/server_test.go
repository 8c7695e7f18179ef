package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/output"
	"github.com/shastasprojector/projector/internal/overlay"
	"github.com/shastasprojector/projector/internal/window"
)

type stubPlatform struct{}

func solid(w, h int, src capture.Source) *capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{0x20, 0x80, 0xe0, 0xff}}, image.Point{}, draw.Src)
	return capture.NewFrame(img, src)
}

func (stubPlatform) Locate(id capture.WindowID) (capture.Rect, error) {
	if id != 42 {
		return capture.Rect{}, capture.ErrTargetUnresolvable
	}
	return capture.Rect{X: 10, Y: 20, Width: 400, Height: 200}, nil
}
func (stubPlatform) IsMinimizedOrHidden(capture.WindowID) bool { return false }
func (stubPlatform) CaptureWindow(id capture.WindowID, w, h int, crop *capture.Rect) (*capture.Frame, error) {
	return solid(w, h, capture.SourceWindow), nil
}
func (stubPlatform) CaptureRegion(r capture.Rect) (*capture.Frame, error) {
	return solid(r.Width, r.Height, capture.SourceScreen), nil
}

type stubBackend struct{}

func (stubBackend) ListWindows() ([]window.Info, error) {
	return []window.Info{{ID: 42, Title: "Editor", Class: "code", Capturable: true}}, nil
}
func (stubBackend) GetFocusedWindow() (*window.Info, error) {
	return &window.Info{ID: 42, Title: "Editor", Focused: true}, nil
}
func (stubBackend) Close() error { return nil }
func (stubBackend) Name() string { return "stub" }

type testEnv struct {
	srv      *httptest.Server
	overlays *overlay.Manager
	streams  *output.Streams
	hub      *Hub
}

func newTestEnv(t *testing.T, withWindows bool) *testEnv {
	t.Helper()

	streams := output.NewStreams(output.Config{FPS: 30, Quality: 70})
	hub := NewHub(streams)
	mgr := overlay.NewManager(overlay.ManagerOptions{
		Platform:    stubPlatform{},
		Presenter:   display.NewPresenter(false),
		Observer:    hub,
		CallTimeout: 100 * time.Millisecond,
	})

	opts := Options{
		Overlays:    mgr,
		Platform:    stubPlatform{},
		Streams:     streams,
		Hub:         hub,
		JPEGQuality: 70,
	}
	if withWindows {
		opts.Windows = window.NewManager(stubBackend{})
	}

	srv := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		mgr.Clear()
		streams.Close()
	})
	return &testEnv{srv: srv, overlays: mgr, streams: streams, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSnapshot(t *testing.T, resp *http.Response) overlay.Snapshot {
	t.Helper()
	var snap overlay.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func (e *testEnv) createRegionOverlay(t *testing.T) overlay.Snapshot {
	t.Helper()
	target := capture.RegionTarget(capture.Rect{X: 0, Y: 0, Width: 160, Height: 90})
	resp := e.do(t, "POST", "/api/overlays", map[string]interface{}{
		"id":     "ov",
		"name":   "Region",
		"target": target,
		"width":  80,
		"height": 45,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	return decodeSnapshot(t, resp)
}

func waitForFrame(t *testing.T, mgr *overlay.Manager, id string) {
	t.Helper()
	o, err := mgr.GetCapture(id)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for o.LastFrame() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no frame captured")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, false)
	resp := e.do(t, "GET", "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, false)
	resp := e.do(t, "OPTIONS", "/api/overlays", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestOverlayLifecycle(t *testing.T) {
	e := newTestEnv(t, false)

	snap := e.createRegionOverlay(t)
	if snap.ID != "ov" || snap.Kind != overlay.KindCapture || snap.State != overlay.StateCapturing {
		t.Fatalf("created = %+v", snap)
	}
	if snap.Viewport.Width != 80 || snap.Viewport.Height != 45 || snap.Viewport.Zoom != 1 {
		t.Errorf("viewport = %+v", snap.Viewport)
	}

	var list []overlay.Snapshot
	if err := json.NewDecoder(e.do(t, "GET", "/api/overlays", nil).Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d overlays", len(list))
	}

	snap = decodeSnapshot(t, e.do(t, "PUT", "/api/overlays/ov/zoom", map[string]float64{"zoom": 2}))
	if snap.Viewport.Zoom != 2 {
		t.Errorf("zoom = %v", snap.Viewport.Zoom)
	}
	snap = decodeSnapshot(t, e.do(t, "PUT", "/api/overlays/ov/zoom", map[string]float64{"zoom": 50}))
	if snap.Viewport.Zoom != display.MaxZoom {
		t.Errorf("zoom not clamped: %v", snap.Viewport.Zoom)
	}

	snap = decodeSnapshot(t, e.do(t, "POST", "/api/overlays/ov/hide", nil))
	if snap.Visible {
		t.Error("overlay still visible")
	}

	snap = decodeSnapshot(t, e.do(t, "PUT", "/api/overlays/ov/bounds", capture.Rect{X: 5, Y: 5, Width: 80, Height: 45}))
	if snap.Bounds.X != 5 || snap.Bounds.Width != 80 {
		t.Errorf("bounds = %+v", snap.Bounds)
	}

	if resp := e.do(t, "DELETE", "/api/overlays/ov", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp := e.do(t, "GET", "/api/overlays/ov", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
}

func TestCreateOverlayRejectsBadTarget(t *testing.T) {
	e := newTestEnv(t, false)
	resp := e.do(t, "POST", "/api/overlays", map[string]interface{}{
		"target": capture.RegionTarget(capture.Rect{Width: 0, Height: 10}),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestSetTargetAndWindowQueries(t *testing.T) {
	e := newTestEnv(t, false)
	e.createRegionOverlay(t)

	if resp := e.do(t, "GET", "/api/overlays/ov/target/full", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("full rect on region status = %d", resp.StatusCode)
	}

	crop := capture.Rect{X: 10, Y: 10, Width: 100, Height: 50}
	snap := decodeSnapshot(t, e.do(t, "PUT", "/api/overlays/ov/target", capture.WindowTarget(42, "Editor", &crop)))
	if snap.Target == nil || snap.Target.Window != 42 {
		t.Fatalf("target = %+v", snap.Target)
	}

	var full capture.Rect
	if err := json.NewDecoder(e.do(t, "GET", "/api/overlays/ov/target/full", nil).Body).Decode(&full); err != nil {
		t.Fatal(err)
	}
	if full.Width != 400 || full.Height != 200 {
		t.Errorf("full rect = %+v", full)
	}

	var got map[string]*capture.Rect
	if err := json.NewDecoder(e.do(t, "GET", "/api/overlays/ov/crop", nil).Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["crop"] == nil || *got["crop"] != crop {
		t.Errorf("crop = %v", got["crop"])
	}

	if resp := e.do(t, "PUT", "/api/overlays/ov/target", capture.Target{Mode: "bogus"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus target status = %d", resp.StatusCode)
	}
}

func TestFrameAndFreeze(t *testing.T) {
	e := newTestEnv(t, false)
	e.createRegionOverlay(t)
	waitForFrame(t, e.overlays, "ov")

	resp := e.do(t, "GET", "/api/overlays/ov/frame.jpg", nil)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 45 {
		t.Errorf("frame = %v, want viewport size", b)
	}

	resp = e.do(t, "POST", "/api/overlays/ov/snapshot", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("freeze status = %d", resp.StatusCode)
	}
	still := decodeSnapshot(t, resp)
	if still.Kind != overlay.KindStill || still.Zoomable {
		t.Errorf("still = %+v", still)
	}

	if resp := e.do(t, "PUT", "/api/overlays/"+still.ID+"/zoom", map[string]int{"steps": 1}); resp.StatusCode != http.StatusConflict {
		t.Errorf("zoom on still status = %d", resp.StatusCode)
	}
	if resp := e.do(t, "POST", "/api/overlays/"+still.ID+"/pan", map[string]int{"dx": 5}); resp.StatusCode != http.StatusOK {
		t.Errorf("pan on still status = %d", resp.StatusCode)
	}
	if resp := e.do(t, "POST", "/api/overlays/missing/snapshot", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("freeze missing status = %d", resp.StatusCode)
	}
}

func TestWindowsEndpoints(t *testing.T) {
	e := newTestEnv(t, false)
	if resp := e.do(t, "GET", "/api/windows", nil); resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("no backend status = %d", resp.StatusCode)
	}

	e = newTestEnv(t, true)
	var windows []window.Info
	if err := json.NewDecoder(e.do(t, "GET", "/api/windows", nil).Body).Decode(&windows); err != nil {
		t.Fatal(err)
	}
	if len(windows) != 1 || windows[0].ID != 42 {
		t.Errorf("windows = %+v", windows)
	}

	resp := e.do(t, "GET", "/api/windows/42/preview?w=100&h=100", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	img, err := jpeg.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("preview = %v, want 100x50", b)
	}

	if resp := e.do(t, "GET", "/api/windows/7/preview", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown window preview status = %d", resp.StatusCode)
	}
}

func TestEventsWebsocket(t *testing.T) {
	e := newTestEnv(t, false)
	e.createRegionOverlay(t)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first overlay.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.OverlayID != "ov" || first.Snapshot == nil {
		t.Fatalf("initial event = %+v", first)
	}

	// The subscription is registered before the initial events are sent.
	e.do(t, "POST", "/api/overlays/ov/hide", nil)
	for {
		var ev overlay.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("no hide event: %v", err)
		}
		if ev.Kind == overlay.EventStateChanged && ev.Snapshot != nil && !ev.Snapshot.Visible {
			return
		}
	}
}

func TestHubSubscriptions(t *testing.T) {
	streams := output.NewStreams(output.Config{FPS: 30})
	defer streams.Close()
	h := NewHub(streams)

	ch := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}

	if _, err := streams.Get("a"); err != nil {
		t.Fatal(err)
	}
	d := overlay.Display{Frame: solid(8, 8, capture.SourcePresented)}
	h.OverlayEvent(overlay.Event{Kind: overlay.EventDisplay, OverlayID: "a", Display: &d})

	h.OverlayEvent(overlay.Event{Kind: overlay.EventStateChanged, OverlayID: "a", Snapshot: &overlay.Snapshot{ID: "a", State: overlay.StateStopped}})
	select {
	case ev := <-ch:
		if ev.OverlayID != "a" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Fatal("state event not delivered")
	}
	if _, ok := streams.Lookup("a"); ok {
		t.Error("stream kept after overlay stopped")
	}

	// A full subscriber drops events instead of blocking.
	for i := 0; i < subscriberBuffer*2; i++ {
		h.OverlayEvent(overlay.Event{Kind: overlay.EventStateChanged, OverlayID: "b"})
	}

	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d after Unsubscribe", h.Subscribers())
	}
}

func TestHubDropsOutOfOrderEvents(t *testing.T) {
	h := NewHub(nil)
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	state := func(id string, seq uint64, st overlay.State) {
		h.OverlayEvent(overlay.Event{Kind: overlay.EventStateChanged, OverlayID: id, Snapshot: &overlay.Snapshot{ID: id, State: st, Seq: seq}})
	}
	state("a", 5, overlay.StateCapturing)
	state("a", 3, overlay.StateTargetInvalid)
	state("b", 4, overlay.StateCapturing)
	// Display seqs are tracked apart from snapshot seqs.
	h.OverlayEvent(overlay.Event{Kind: overlay.EventDisplay, OverlayID: "a", Display: &overlay.Display{Seq: 2}})

	var got []uint64
	for len(ch) > 0 {
		got = append(got, (<-ch).Snapshot.Seq)
	}
	if len(got) != 2 || got[0] != 5 || got[1] != 4 {
		t.Fatalf("delivered seqs = %v, want [5 4]", got)
	}

	// A stopped overlay forgets its seqs so a recreated id starts fresh.
	state("a", 6, overlay.StateStopped)
	<-ch
	h.order.Lock()
	_, ok := h.seen[seenKey{"a", overlay.EventStateChanged}]
	h.order.Unlock()
	if ok {
		t.Error("seq kept after overlay stopped")
	}
}
