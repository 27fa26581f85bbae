package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/accel_logger/internal/imu"
)

func TestHandlerStatusCodes(t *testing.T) {
	d := newTestDevice(t, burstTicks{n: 13 * 15})
	srv := httptest.NewServer(NewHandler(d.Device))
	defer srv.Close()

	do := func(method, path string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	cases := []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/status", http.StatusOK},
		{"GET", "/api/version", http.StatusOK},
		{"POST", "/api/record/start?hz=7", http.StatusBadRequest},
		{"POST", "/api/record/stop", http.StatusConflict},
		{"GET", "/api/files/notes.txt", http.StatusBadRequest},
		{"GET", "/api/files/accel000000000000.dat/summary", http.StatusNotFound},
		{"DELETE", "/api/files/accel000000000000.dat", http.StatusNotFound},
		{"POST", "/api/record/start?hz=13&sec=15&ts=261018120000", http.StatusAccepted},
	}
	for _, c := range cases {
		if resp := do(c.method, c.path); resp.StatusCode != c.want {
			t.Errorf("%s %s = %d, want %d", c.method, c.path, resp.StatusCode, c.want)
		}
	}
	d.Wait()

	name := "accel261018120000.dat"
	for _, path := range []string{"/api/files", "/api/files/" + name, "/api/files/" + name + "/csv", "/api/files/" + name + "/summary", "/api/files/" + name + "/fft?axis=x", "/metrics"} {
		if resp := do("GET", path); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
	if resp := do("GET", "/api/files/"+name+"/fft?axis=w"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad axis = %d", resp.StatusCode)
	}
	if resp := do("DELETE", "/api/files/"+name); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete = %d", resp.StatusCode)
	}
}

func TestHandlerLiveAndRegisters(t *testing.T) {
	d := newTestDevice(t, nil)
	srv := httptest.NewServer(NewHandler(d.Device))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/live?fc=20")
	if err != nil {
		t.Fatal(err)
	}
	var live struct {
		Enabled bool    `json:"enabled"`
		Fc      float64 `json:"fc"`
		N       int     `json:"n"`
	}
	err = json.NewDecoder(resp.Body).Decode(&live)
	resp.Body.Close()
	if err != nil || !live.Enabled || live.Fc != 20 || live.N != 50 {
		t.Fatalf("live = %+v, %v", live, err)
	}

	resp, err = http.Get(srv.URL + "/api/registers")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "WHO_AM_I") {
		t.Fatalf("registers = %d %s", resp.StatusCode, body)
	}
}

func TestCalibrationWebSocketStatic(t *testing.T) {
	d := newTestDevice(t, nil)
	d.accel.setG(imu.Vec3{X: 0.01, Y: -0.02, Z: 1.01})
	srv := httptest.NewServer(NewHandler(d.Device))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Action: "static"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read after %v: %v", types, err)
		}
		types = append(types, resp.Type)
		if resp.Type == "error" {
			t.Fatalf("error: %s", resp.Message)
		}
		if resp.Type == "complete" {
			break
		}
	}
	if types[0] != "phase" {
		t.Fatalf("messages = %v", types)
	}
	d.Wait()
	if cal, _ := d.Calibration(); !cal.Enabled {
		t.Fatal("calibration not persisted")
	}
}

func TestCalibrationWebSocketSixAfterCancel(t *testing.T) {
	d := newTestDevice(t, nil)
	srv := httptest.NewServer(NewHandler(d.Device))
	defer srv.Close()

	poses := map[string]imu.Vec3{
		"X+": {X: 1}, "X-": {X: -1},
		"Y+": {Y: 1}, "Y-": {Y: -1},
		"Z+": {Z: 1}, "Z-": {Z: -1},
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// An idle cancel and an early next must not leak into the next tumble.
	for _, action := range []string{"cancel", "next", "six"} {
		if err := conn.WriteJSON(WSMessage{Action: action}); err != nil {
			t.Fatal(err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var prompts []string
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read after prompts %v: %v", prompts, err)
		}
		if resp.Type == "error" {
			t.Fatalf("error after prompts %v: %s", prompts, resp.Message)
		}
		if resp.Type == "complete" {
			break
		}
		if resp.Type == "action" {
			prompts = append(prompts, resp.Pose)
			d.accel.setG(poses[resp.Pose])
			if err := conn.WriteJSON(WSMessage{Action: "next"}); err != nil {
				t.Fatal(err)
			}
		}
	}
	d.Wait()

	if len(prompts) != 6 {
		t.Fatalf("prompts = %v", prompts)
	}
	if cal, _ := d.Calibration(); !cal.Enabled {
		t.Fatal("calibration not persisted")
	}
}

func TestCalibrationWebSocketCancelStopsTumble(t *testing.T) {
	d := newTestDevice(t, nil)
	srv := httptest.NewServer(NewHandler(d.Device))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Action: "six"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Type == "action" {
			break
		}
	}
	if err := conn.WriteJSON(WSMessage{Action: "cancel"}); err != nil {
		t.Fatal(err)
	}
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Type == "complete" {
			t.Fatal("tumble completed after cancel")
		}
		if resp.Type == "error" {
			break
		}
	}
	d.Wait()
	if st := d.Status(); st.Calibrating6 || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}
