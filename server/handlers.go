package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/transcribe"
	"go.uber.org/zap"
)

type inputRequest struct {
	Response string `json:"response"`
}

type transcriptRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.submit(w, req.Response, s.session.SubmitUserResponse) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.submit(w, req.Text, s.session.SubmitTranscript) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "text": req.Text})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	text, err := s.transcriber.Transcribe(r.Context(), transcribe.Audio{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	})
	if errors.Is(err, transcribe.ErrNoSpeech) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.logger.Warn("transcription failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	if !s.submit(w, text, s.session.SubmitTranscript) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// submit delivers text and writes the error response on failure.
func (s *Server) submit(w http.ResponseWriter, text string, fn func(string) error) bool {
	err := fn(text)
	if errors.Is(err, agentloop.ErrEmptyInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err != nil {
		s.logger.Warn("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	return true
}
