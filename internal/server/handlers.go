package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/export"
	"github.com/hyperjump/tagihan/internal/invoice"
	"github.com/hyperjump/tagihan/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	multipartMemory  = 8 << 20
)

type dataResponse struct {
	Response any `json:"response"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.config.MaxUploadMB << 20
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload limit")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	role := r.FormValue("user_type")

	s.logger.Debug("upload request", zap.String("file", header.Filename), zap.String("user_type", role), zap.Int64("size", header.Size))
	inv, err := s.processor.ProcessInvoice(r.Context(), invoice.Upload{Filename: header.Filename, Body: file}, role)
	if err != nil {
		s.logger.Error("upload failed", zap.String("file", header.Filename), zap.String("stage", string(invoice.StageOf(err))), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, dataResponse{Response: inv})
}

func (s *Server) handleAskChat(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.FormValue("query"))
	docID := strings.TrimSpace(r.FormValue("doc_id"))
	if query == "" || docID == "" {
		s.respondError(w, http.StatusBadRequest, "query and doc_id are required")
		return
	}

	s.logger.Debug("chat request", zap.String("doc_id", docID), zap.String("query", query))
	answer, err := s.chat.Answer(r.Context(), docID, query)
	if err != nil {
		if errors.Is(err, invoice.ErrDocumentNotFound) {
			s.respondError(w, http.StatusNotFound, "Document not found")
			return
		}
		s.logger.Error("chat failed", zap.String("doc_id", docID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, dataResponse{Response: answer})
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxListLimit)

	invoices, err := s.invoices.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list invoices failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.invoices.Count(r.Context())
	if err != nil {
		s.logger.Error("count invoices failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"invoices": invoices,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := s.invoices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "invoice not found")
			return
		}
		s.logger.Error("get invoice failed", zap.String("doc_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, inv)
}

func (s *Server) handleExportInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := repository.ListAll(r.Context(), s.invoices)
	if err != nil {
		s.logger.Error("export: list invoices failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := export.WriteInvoicesXLSX(&buf, invoices); err != nil {
		s.logger.Error("export failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.invoices.Count(r.Context())
	if err != nil {
		s.logger.Error("status: count invoices failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	manifests, err := s.indexes.List()
	if err != nil {
		s.logger.Error("status: list indexes failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"invoices": count,
		"indexes":  len(manifests),
	}
	if diskBytes, err := s.indexes.DiskUsage(); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
