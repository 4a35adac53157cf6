package note

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// maxUploadSize bounds a single document upload (high-resolution phone photos)
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a {"error": message} response
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

const storeLockedMessage = "Stored notes were saved by a newer version of DocExtract and cannot be changed."

// storeError maps a failed store mutation to a response
func storeError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, ErrUnsupportedPayload) {
		jsonError(w, storeLockedMessage, http.StatusConflict)
		return
	}
	corsError(w, message, http.StatusInternalServerError)
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleListNotes returns all notes, newest first
func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

// handleGetNote returns a single note
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, ok := s.store.Get(id)
	if !ok {
		corsError(w, "Note not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// contentTypeFor picks the document type from the upload header or the file extension
func contentTypeFor(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		// let the recognizer sniff it
		return ""
	}
}

// handleUploadNote captures a delivery note from an uploaded image or PDF
func (s *Server) handleUploadNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)

	// the request context cancels the capture if the client goes away
	n, err := s.session.Capture(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error capturing note", "filename", header.Filename, "error", err)

		var recErr *RecognitionError
		switch {
		case errors.Is(err, ErrBusy):
			jsonError(w, "Another document is being processed. Please wait for it to finish.", http.StatusConflict)
		case errors.As(err, &recErr):
			jsonError(w, "Could not process the document. Please try a clearer image.", http.StatusUnprocessableEntity)
		case errors.Is(err, ErrUnsupportedPayload):
			jsonError(w, storeLockedMessage, http.StatusConflict)
		default:
			jsonError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

// handleUpdateNote applies a partial edit
func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var u NoteUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.Update(id, u); err != nil {
		slog.Error("Error updating note", "id", id, "error", err)
		storeError(w, "Error updating note", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteNote deletes a note; deleting an unknown note succeeds
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		slog.Error("Error deleting note", "id", id, "error", err)
		storeError(w, "Error deleting note", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClearNotes empties the collection once the caller confirmed it
func (s *Server) handleClearNotes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		jsonError(w, "Clearing all notes requires confirm=true", http.StatusBadRequest)
		return
	}

	if err := s.store.Clear(); err != nil {
		slog.Error("Error clearing notes", "error", err)
		storeError(w, "Error clearing notes", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// exportFilename returns delivery_notes_export_<date>.<ext>
func (s *Server) exportFilename(ext string) string {
	return fmt.Sprintf("delivery_notes_export_%s.%s", s.timeSource.Now().Format("2006-01-02"), ext)
}

// handleExportCSV downloads the collection as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.store.ExportCSV(&buf); err != nil {
		slog.Error("Error exporting csv", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.exportFilename("csv")))
	w.Write(buf.Bytes())
}

// handleExportXLSX downloads the collection as an Excel workbook
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportXLSX()
	if err != nil {
		slog.Error("Error exporting xlsx", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, s.exportFilename("xlsx")))
	w.Write(data)
}

// handleCaptureStatus reports the session state and progress
func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}
