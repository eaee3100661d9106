package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go-liveness-issuer/images"
	"go-liveness-issuer/liveness"
	"go-liveness-issuer/models"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	url    string
	tokens *InMemoryTokenStorage
	frames *InMemoryFrameStorage
	jwt    *fakeJwtCreator
	state  *ServerState
}

func startTestServer(t *testing.T, maxSessions int) *testEnv {
	t.Helper()

	sessions, err := NewSessionRegistry(liveness.DefaultConfig(), maxSessions, time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		tokens: NewInMemoryTokenStorage(),
		frames: NewInMemoryFrameStorage(),
		jwt:    &fakeJwtCreator{jwt: "test-jwt"},
	}
	env.state = &ServerState{
		irmaServerURL: "https://irma.example",
		tokenStorage:  env.tokens,
		frameStorage:  env.frames,
		sessions:      sessions,
		jwtCreator:    env.jwt,
		frameOptions:  images.EncodeOptions{MaxDimension: 16},
	}

	srv := httptest.NewServer(NewRouter(env.state))
	t.Cleanup(srv.Close)
	env.url = srv.URL
	return env
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

func (e *testEnv) start(t *testing.T) (sessionID, nonce string) {
	t.Helper()
	resp, body, sr := postJSON[models.StartSessionResponse](t, e.url+"/api/liveness/start", nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	require.NotEmpty(t, sr.Nonce)
	return sr.SessionId, sr.Nonce
}

func (e *testEnv) observe(t *testing.T, obs models.ObservationRequest) *models.SessionStateResponse {
	t.Helper()
	resp, body, state := postJSON[models.SessionStateResponse](t, e.url+"/api/liveness/observation", obs)
	mustStatus(t, resp, http.StatusOK, body)
	return state
}

var (
	testFrameOnce sync.Once
	testFrame     string
)

// testFrameBase64 is a small base64 JPEG used as the camera frame.
func testFrameBase64(t *testing.T) string {
	t.Helper()
	testFrameOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 32, 24))
		for y := 0; y < 24; y++ {
			for x := 0; x < 32; x++ {
				img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err == nil {
			testFrame = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	})
	require.NotEmpty(t, testFrame)
	return testFrame
}

func eyeOpen(v float32) *float32 {
	return &v
}

// livenessScript is a complete liveness run: positioning, calibration,
// a full head circle, a blink and a final frontal frame.
func livenessScript(t *testing.T, sessionID, nonce string) []models.ObservationRequest {
	t.Helper()
	frame := testFrameBase64(t)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	var script []models.ObservationRequest
	add := func(yaw, pitch float64, eyes float32) {
		script = append(script, models.ObservationRequest{
			SessionId:       sessionID,
			Nonce:           nonce,
			HasFace:         true,
			Yaw:             yaw,
			Pitch:           pitch,
			LeftEyeOpen:     eyeOpen(eyes),
			RightEyeOpen:    eyeOpen(eyes),
			BoundingBoxArea: 0.16,
			TimestampMs:     now,
			Frame:           frame,
		})
		now += 100
	}

	add(0, 0, 0.9)
	now += 5000
	for i := 0; i < 13; i++ {
		add(0, 0, 0.9)
	}
	for segment := 0; segment < liveness.SegmentCount; segment++ {
		angle := (float64(segment) + 0.5) * 2 * math.Pi / liveness.SegmentCount
		for i := 0; i < 5; i++ {
			add(40*math.Cos(angle), 40*math.Sin(angle), 0.9)
		}
	}
	for _, v := range []float32{0.9, 0.3, 0.2, 0.8, 0.9} {
		add(20, 0, v)
	}
	add(1, 1, 0.9)
	return script
}

// test doubles

type fakeJwtCreator struct {
	jwt      string
	mu       sync.Mutex
	requests []models.LivenessIssuanceRequest
}

func (f *fakeJwtCreator) CreateLivenessJwt(request models.LivenessIssuanceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, request)
	return f.jwt, nil
}

func (f *fakeJwtCreator) issued() []models.LivenessIssuanceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LivenessIssuanceRequest(nil), f.requests...)
}

// flakyFrameStorage fails the first failures stores.
type flakyFrameStorage struct {
	FrameStorage
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyFrameStorage) StoreFrame(sessionId string, frame []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return errors.New("frame storage unavailable")
	}
	return f.FrameStorage.StoreFrame(sessionId, frame)
}
