package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-liveness-issuer/images"
	"go-liveness-issuer/liveness"
	"go-liveness-issuer/models"

	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_JWT_CREATION = "failed to create jwt"
const ERR_TOKEN_REMOVAL = "failed to remove token from storage"
const ERR_TOKEN_RETRIEVAL = "failed to get nonce from storage"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_INVALID_FRAME = "invalid frame"
const ERR_FRAME_STORAGE = "failed to store accepted frame"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	irmaServerURL string
	tokenStorage  TokenStorage
	frameStorage  FrameStorage
	sessions      *SessionRegistry
	jwtCreator    JwtCreator
	frameOptions  images.EncodeOptions
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	}
	slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler:      NewRouter(state),
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

// NewRouter registers the liveness API on a fresh router.
func NewRouter(state *ServerState) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/liveness/start", func(w http.ResponseWriter, r *http.Request) {
		handleStartLiveness(state, w, r)
	})
	router.HandleFunc("/api/liveness/observation", func(w http.ResponseWriter, r *http.Request) {
		handleObservation(state, w, r)
	})
	router.HandleFunc("/api/liveness/state", func(w http.ResponseWriter, r *http.Request) {
		handleState(state, w, r)
	})
	router.HandleFunc("/api/liveness/reset", func(w http.ResponseWriter, r *http.Request) {
		handleReset(state, w, r)
	})
	router.HandleFunc("/api/liveness/issue", func(w http.ResponseWriter, r *http.Request) {
		handleIssueLiveness(state, w, r)
	})

	slog.Debug("Registered all API routes")
	return router
}

type IssuanceResponse struct {
	Jwt           string `json:"jwt"`
	IrmaServerURL string `json:"irma_server_url"`
}

func handleStartLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start liveness session")

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	nonce, err := GenerateNonce(8)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate nonce", err)
		return
	}

	session, err := state.sessions.Create(sessionId)
	if errors.Is(err, ErrTooManySessions) {
		respondWithErr(w, http.StatusServiceUnavailable, "too many sessions", "liveness session limit reached", err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to create liveness session", err)
		return
	}

	// The nonce is removed again when the credential jwt is handed over to the app
	if err := state.tokenStorage.StoreToken(sessionId, nonce); err != nil {
		state.sessions.Remove(sessionId)
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store nonce", err)
		return
	}

	response := models.StartSessionResponse{
		SessionId: sessionId,
		Nonce:     nonce,
		State:     newStateResponse(session.controller.State()),
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Liveness session started", "session_id", sessionId)
}

func handleObservation(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.ObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode observation", err)
		return
	}

	session, ok := authorizeSession(state, w, request.SessionId, request.Nonce)
	if !ok {
		return
	}

	obs, err := toObservation(state, session, request)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_FRAME, ERR_INVALID_FRAME, err)
		return
	}
	defer func() {
		session.releaseFrames(obs.Frame, session.controller.RetainedFrames())
	}()

	livenessState, err := session.controller.ProcessObservation(obs)
	if errors.Is(err, liveness.ErrConcurrentObservation) {
		respondWithErr(w, http.StatusConflict, "observation in progress", "concurrent observation rejected", err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to process observation", err)
		return
	}

	if livenessState.Completed {
		if err := storeAcceptedFrame(state, session, livenessState); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_FRAME_STORAGE, err)
			return
		}
	}

	if err := writeJSON(w, http.StatusOK, newStateResponse(livenessState)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleState(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	request, err := decodeSessionRequest(r)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode session request", err)
		return
	}
	session, ok := authorizeSession(state, w, request.SessionId, request.Nonce)
	if !ok {
		return
	}

	if err := writeJSON(w, http.StatusOK, newStateResponse(session.controller.State())); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleReset(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	request, err := decodeSessionRequest(r)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode session request", err)
		return
	}
	session, ok := authorizeSession(state, w, request.SessionId, request.Nonce)
	if !ok {
		return
	}

	livenessState := session.reset()
	if err := state.frameStorage.RemoveFrame(request.SessionId); err != nil {
		slog.Warn("Failed to remove stored frame on reset", "session_id", request.SessionId, "error", err)
	}

	slog.Info("Liveness session reset", "session_id", request.SessionId)
	if err := writeJSON(w, http.StatusOK, newStateResponse(livenessState)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleIssueLiveness(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to issue liveness credential")

	request, err := decodeSessionRequest(r)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode session request", err)
		return
	}
	session, ok := authorizeSession(state, w, request.SessionId, request.Nonce)
	if !ok {
		return
	}

	livenessState := session.controller.State()
	if !livenessState.Completed {
		respondWithErr(w, http.StatusBadRequest, "liveness not completed", "issuance requested too early", ErrNotCompleted)
		return
	}

	issuanceRequest := models.LivenessIssuanceRequest{
		Quality:   livenessState.Tier.Quality(),
		CheckedAt: time.Now(),
	}
	if livenessState.AcceptedFrame != nil {
		frame, err := state.frameStorage.RetrieveFrame(request.SessionId)
		if err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to retrieve accepted frame", err)
			return
		}
		issuanceRequest.Selfie = base64.StdEncoding.EncodeToString(frame)
	}

	jwt, err := state.jwtCreator.CreateLivenessJwt(issuanceRequest)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_JWT_CREATION, ERR_JWT_CREATION, err)
		return
	}

	response := IssuanceResponse{
		Jwt:           jwt,
		IrmaServerURL: state.irmaServerURL,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Liveness credential issued", "session_id", request.SessionId, "quality", issuanceRequest.Quality)
	state.sessions.Remove(request.SessionId)
	if err := state.frameStorage.RemoveFrame(request.SessionId); err != nil {
		slog.Warn("Failed to remove stored frame after issuance", "session_id", request.SessionId, "error", err)
	}
	removeSessionToken(state.tokenStorage, request.SessionId)
}

// -----------------------------------------------------------------------------------

// authorizeSession validates session and nonce and looks up the running
// liveness session. It writes the error response itself.
func authorizeSession(state *ServerState, w http.ResponseWriter, sessionId, nonce string) (*livenessSession, bool) {
	if err := validateSession(state.tokenStorage, sessionId, nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_NONCE_SESSION, ERR_INVALID_NONCE_SESSION, err)
		return nil, false
	}
	session, err := state.sessions.Get(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, "session not found", "liveness session not found", err)
		return nil, false
	}
	return session, true
}

// validateSession validates session and nonce
func validateSession(storage TokenStorage, sessionId, nonce string) error {
	storedNonce, err := storage.RetrieveToken(sessionId)
	if err != nil {
		slog.Warn("Failed to retrieve token from storage", "session_id", sessionId, "error", err)
		return fmt.Errorf("%s: %w", ERR_TOKEN_RETRIEVAL, err)
	}

	if storedNonce == "" || storedNonce != nonce {
		slog.Warn("Invalid nonce or session", "session_id", sessionId, "nonce_empty", storedNonce == "")
		return fmt.Errorf("%s", ERR_INVALID_NONCE_SESSION)
	}
	return nil
}

// removeSessionToken removes the nonce and only logs a failure, the response
// has already been written.
func removeSessionToken(storage TokenStorage, sessionId string) {
	if err := storage.RemoveToken(sessionId); err != nil {
		slog.Error(ERR_TOKEN_REMOVAL, "session_id", sessionId, "error", err)
	} else {
		slog.Debug("Session token removed successfully", "session_id", sessionId)
	}
}

func decodeSessionRequest(r *http.Request) (models.SessionRequest, error) {
	var request models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return request, fmt.Errorf("decode request body: %w", err)
	}
	return request, nil
}

// toObservation converts the request and registers its frame, if any, with
// the session.
func toObservation(state *ServerState, session *livenessSession, request models.ObservationRequest) (liveness.FaceObservation, error) {
	obs := request.Observation()
	if request.TimestampMs == 0 {
		obs.Timestamp = time.Now()
	}

	if request.Frame == "" {
		return obs, nil
	}
	data, err := base64.StdEncoding.DecodeString(request.Frame)
	if err != nil {
		return obs, fmt.Errorf("decode frame: %w", err)
	}
	frame, err := images.NormalizeFrame(data, state.frameOptions)
	if err != nil {
		return obs, err
	}
	obs.Frame = session.addFrame(frame)
	return obs, nil
}

// storeAcceptedFrame persists the accepted frame of a completed session. It
// is retried on later observations until a store succeeds.
func storeAcceptedFrame(state *ServerState, session *livenessSession, livenessState liveness.SessionState) error {
	if livenessState.AcceptedFrame == nil {
		return nil
	}
	return session.storeOnce(func() error {
		frame, ok := session.frame(*livenessState.AcceptedFrame)
		if !ok {
			return fmt.Errorf("accepted frame %s is no longer available", *livenessState.AcceptedFrame)
		}
		if err := state.frameStorage.StoreFrame(session.id, frame.PNG); err != nil {
			return err
		}
		slog.Info("Accepted frame stored", "session_id", session.id, "width", frame.Width, "height", frame.Height)
		return nil
	})
}

func newStateResponse(s liveness.SessionState) *models.SessionStateResponse {
	response := &models.SessionStateResponse{
		Stage:                s.Stage.String(),
		Instruction:          string(s.Instruction),
		InstructionText:      s.InstructionText,
		Coverage:             s.Coverage[:],
		CoveredSegments:      s.CoveredSegments,
		VisitedSegments:      s.VisitedSegments,
		BlinkConfirmed:       s.BlinkConfirmed,
		Completed:            s.Completed,
		FaceVisible:          s.FaceVisible,
		CalibrationRemaining: s.CalibrationRemaining,
		Quality:              s.Tier.Quality(),
		Stalled:              s.Stalled,
	}
	if s.AcceptedFrame != nil {
		frame := string(*s.AcceptedFrame)
		response.AcceptedFrame = &frame
	}
	return response
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	return fmt.Sprintf("%x", sessionId)
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(nonce), nil
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
