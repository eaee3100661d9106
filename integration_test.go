package main

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/http"
	"testing"

	"go-liveness-issuer/models"

	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := startTestServer(t, 0)

	resp, err := http.Get(env.url + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartLiveness(t *testing.T) {
	env := startTestServer(t, 0)

	resp, body, sr := postJSON[models.StartSessionResponse](t, env.url+"/api/liveness/start", nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Len(t, sr.SessionId, 32)
	require.Len(t, sr.Nonce, 16)
	require.Equal(t, "initial_instructions", sr.State.Stage)
	require.Equal(t, "Position your face inside the frame", sr.State.InstructionText)
	require.Len(t, sr.State.Coverage, 8)

	nonce, err := env.tokens.RetrieveToken(sr.SessionId)
	require.NoError(t, err)
	require.Equal(t, sr.Nonce, nonce)
}

func TestStartLiveness_RequiresPOST(t *testing.T) {
	env := startTestServer(t, 0)

	resp, err := http.Get(env.url + "/api/liveness/start")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStartLiveness_SessionLimit(t *testing.T) {
	env := startTestServer(t, 1)
	env.start(t)

	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/start", nil)
	mustStatus(t, resp, http.StatusServiceUnavailable, body)
}

func TestObservation_Fail_BadNonce(t *testing.T) {
	env := startTestServer(t, 0)
	session, _ := env.start(t)

	req := models.ObservationRequest{SessionId: session, Nonce: "bad-nonce", HasFace: true}
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/observation", req)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestObservation_Fail_UnknownSession(t *testing.T) {
	env := startTestServer(t, 0)

	session := GenerateSessionId()
	nonce, _ := GenerateNonce(8)
	require.NoError(t, env.tokens.StoreToken(session, nonce))

	req := models.ObservationRequest{SessionId: session, Nonce: nonce, HasFace: true}
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/observation", req)
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestObservation_Fail_InvalidFrame(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	req := models.ObservationRequest{SessionId: session, Nonce: nonce, HasFace: true, Frame: "not base64!"}
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/observation", req)
	mustStatus(t, resp, http.StatusBadRequest, body)

	req.Frame = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("not an image "), 8))
	resp, body, _ = postJSON[map[string]any](t, env.url+"/api/liveness/observation", req)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestObservation_Guidance(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	state := env.observe(t, models.ObservationRequest{
		SessionId:       session,
		Nonce:           nonce,
		HasFace:         true,
		Roll:            40,
		BoundingBoxArea: 0.16,
		TimestampMs:     1_000,
	})
	require.Equal(t, "initial_instructions", state.Stage)
	require.Equal(t, "Hold your head upright", state.InstructionText)
	require.True(t, state.FaceVisible)

	state = env.observe(t, models.ObservationRequest{SessionId: session, Nonce: nonce, TimestampMs: 1_100})
	require.False(t, state.FaceVisible)
}

func TestLivenessFlow_IssuesCredential(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	var last *models.SessionStateResponse
	for _, obs := range livenessScript(t, session, nonce) {
		last = env.observe(t, obs)
	}
	require.True(t, last.Completed)
	require.Equal(t, "completed", last.Stage)
	require.Equal(t, "optimal", last.Quality)
	require.Equal(t, 8, last.CoveredSegments)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, last.VisitedSegments)
	require.True(t, last.BlinkConfirmed)
	require.NotNil(t, last.AcceptedFrame)

	stored, err := env.frames.RetrieveFrame(session)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	require.LessOrEqual(t, decoded.Bounds().Dx(), 16)

	req := models.SessionRequest{SessionId: session, Nonce: nonce}
	resp, body, issued := postJSON[IssuanceResponse](t, env.url+"/api/liveness/issue", req)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "test-jwt", issued.Jwt)
	require.Equal(t, "https://irma.example", issued.IrmaServerURL)

	requests := env.jwt.issued()
	require.Len(t, requests, 1)
	require.Equal(t, "optimal", requests[0].Quality)
	require.NotEmpty(t, requests[0].Selfie)

	_, err = env.tokens.RetrieveToken(session)
	require.ErrorIs(t, err, ErrTokenNotFound)
	_, err = env.frames.RetrieveFrame(session)
	require.ErrorIs(t, err, ErrFrameNotFound)
	require.Equal(t, 0, env.state.sessions.Len())

	resp, body, _ = postJSON[map[string]any](t, env.url+"/api/liveness/issue", req)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestLivenessFlow_RetriesFailedFrameStore(t *testing.T) {
	env := startTestServer(t, 0)
	flaky := &flakyFrameStorage{FrameStorage: env.frames, failures: 1}
	env.state.frameStorage = flaky
	session, nonce := env.start(t)

	script := livenessScript(t, session, nonce)
	for _, obs := range script[:len(script)-1] {
		env.observe(t, obs)
	}
	final := script[len(script)-1]
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/observation", final)
	mustStatus(t, resp, http.StatusInternalServerError, body)
	_, err := env.frames.RetrieveFrame(session)
	require.ErrorIs(t, err, ErrFrameNotFound)

	final.TimestampMs += 100
	state := env.observe(t, final)
	require.True(t, state.Completed)
	_, err = env.frames.RetrieveFrame(session)
	require.NoError(t, err, "the accepted frame is stored on the next observation")
	require.Equal(t, 2, flaky.calls)

	req := models.SessionRequest{SessionId: session, Nonce: nonce}
	resp, body, issued := postJSON[IssuanceResponse](t, env.url+"/api/liveness/issue", req)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "test-jwt", issued.Jwt)
	require.NotEmpty(t, env.jwt.issued()[0].Selfie)
}

func TestLivenessFlow_ObservationsAfterCompletion(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	script := livenessScript(t, session, nonce)
	for _, obs := range script {
		env.observe(t, obs)
	}
	first, err := env.frames.RetrieveFrame(session)
	require.NoError(t, err)

	extra := script[len(script)-1]
	extra.TimestampMs += 100
	state := env.observe(t, extra)
	require.True(t, state.Completed)

	again, err := env.frames.RetrieveFrame(session)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestIssue_Fail_NotCompleted(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	req := models.SessionRequest{SessionId: session, Nonce: nonce}
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/issue", req)
	mustStatus(t, resp, http.StatusBadRequest, body)

	_, err := env.tokens.RetrieveToken(session)
	require.NoError(t, err, "token should survive a premature issue")
	require.Empty(t, env.jwt.issued())
}

func TestReset(t *testing.T) {
	env := startTestServer(t, 0)
	session, nonce := env.start(t)

	for _, obs := range livenessScript(t, session, nonce) {
		env.observe(t, obs)
	}

	req := models.SessionRequest{SessionId: session, Nonce: nonce}
	resp, body, state := postJSON[models.SessionStateResponse](t, env.url+"/api/liveness/reset", req)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "initial_instructions", state.Stage)
	require.False(t, state.Completed)
	require.Equal(t, 0, state.CoveredSegments)
	require.Nil(t, state.AcceptedFrame)

	_, err := env.frames.RetrieveFrame(session)
	require.ErrorIs(t, err, ErrFrameNotFound)

	resp, body, current := postJSON[models.SessionStateResponse](t, env.url+"/api/liveness/state", req)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, state, current)
}

func TestState_Fail_BadNonce(t *testing.T) {
	env := startTestServer(t, 0)
	session, _ := env.start(t)

	req := models.SessionRequest{SessionId: session, Nonce: "bad"}
	resp, body, _ := postJSON[map[string]any](t, env.url+"/api/liveness/state", req)
	mustStatus(t, resp, http.StatusBadRequest, body)
}
