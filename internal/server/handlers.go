package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KaramelBytes/cleanloom/internal/ai"
	"github.com/KaramelBytes/cleanloom/internal/cleaning"
	"github.com/KaramelBytes/cleanloom/internal/dataset"
	"github.com/KaramelBytes/cleanloom/internal/eda"
	"github.com/KaramelBytes/cleanloom/internal/parser"
	"github.com/KaramelBytes/cleanloom/internal/report"
	"github.com/KaramelBytes/cleanloom/internal/schema"
	"github.com/KaramelBytes/cleanloom/internal/session"
)

const (
	defaultPreviewRows = 10
	maxPreviewRows     = 1000
)

type snapshotResponse struct {
	Generation uint64               `json:"generation"`
	Source     string               `json:"source"`
	Rows       int                  `json:"rows"`
	Schema     schema.DatasetSchema `json:"schema"`
	EDA        eda.Summary          `json:"eda"`
	Stats      session.Stats        `json:"stats"`
}

func newSnapshotResponse(snap *session.Snapshot) snapshotResponse {
	return snapshotResponse{
		Generation: snap.Generation,
		Source:     snap.Source,
		Rows:       snap.Dataset.Len(),
		Schema:     snap.Schema,
		EDA:        snap.EDA,
		Stats:      snap.Stats,
	}
}

type fetchRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

type cleanRequest struct {
	Mode   string           `json:"mode" validate:"omitempty,oneof=default manual"`
	Config *cleaning.Config `json:"config"`
}

type cleanResponse struct {
	snapshotResponse
	Mode       cleaning.Mode   `json:"mode"`
	Config     cleaning.Config `json:"config"`
	Report     string          `json:"report"`
	ReportHTML string          `json:"reportHtml"`
	Comparison string          `json:"comparison"`
	Usage      ai.Usage        `json:"usage"`
	CostUSD    float64         `json:"costUsd,omitempty"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.store.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return nil, false
	}
	return sess, true
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*session.Snapshot, bool) {
	sess, ok := s.session(w, r)
	if !ok {
		return nil, false
	}
	snap, err := sess.Current()
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return nil, false
	}
	return snap, true
}

// commit makes ds the active dataset under the generation reserved when the
// request started.
func (s *Server) commit(w http.ResponseWriter, r *http.Request, sess *session.Session, gen uint64, src string, ds *dataset.Dataset) {
	snap, err := sess.Commit(r.Context(), gen, src, ds)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	s.log.Info("dataset loaded", "session", sess.ID, "source", src, "rows", ds.Len(), "columns", len(ds.Columns), "generation", snap.Generation)
	writeJSON(w, http.StatusOK, newSnapshotResponse(snap))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.store.Create()
	writeJSON(w, http.StatusCreated, map[string]string{"id": sess.ID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if r.ContentLength > s.opt.MaxUploadBytes {
		s.fail(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("upload of %d bytes exceeds %d", r.ContentLength, s.opt.MaxUploadBytes))
		return
	}
	gen := sess.Begin()
	r.Body = http.MaxBytesReader(w, r.Body, s.opt.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if status := statusFor(err); status == http.StatusRequestEntityTooLarge {
			s.fail(w, r, status, err)
			return
		}
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("multipart field \"file\": %w", err))
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	ds, err := parser.DecodeBytes(header.Filename, header.Header.Get("Content-Type"), body, s.opt.Parse)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	s.commit(w, r, sess, gen, header.Filename, ds)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req fetchRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, http.StatusBadRequest, describeValidation(err))
		return
	}
	gen := sess.Begin()
	ds, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// transport failures reaching the remote host
			status = http.StatusBadGateway
		}
		s.fail(w, r, status, err)
		return
	}
	s.commit(w, r, sess, gen, req.URL, ds)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Schema)
}

func (s *Server) handleEDA(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"eda": snap.EDA, "stats": snap.Stats})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	limit := defaultPreviewRows
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err == nil {
			err = s.validate.Var(n, "gte=1,lte="+strconv.Itoa(maxPreviewRows))
		}
		if err != nil {
			s.fail(w, r, http.StatusBadRequest, fmt.Errorf("limit must be an integer between 1 and %d", maxPreviewRows))
			return
		}
		limit = n
	}
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	rows := snap.Dataset.Head(limit)
	if rows == nil {
		rows = []dataset.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": snap.Dataset.Columns,
		"rows":    rows,
		"total":   snap.Dataset.Len(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, report.SnapshotMarkdown(snap, report.DefaultOptions))
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, report.HTML(report.SnapshotMarkdown(snap, report.DefaultOptions)))
	case "json":
		writeJSON(w, http.StatusOK, report.NewBundle(snap))
	default:
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("unknown report format %q (want md, html or json)", format))
	}
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	cfg := cleaning.DefaultConfig(snap.Schema)
	writeJSON(w, http.StatusOK, map[string]any{
		"config":   cfg,
		"markdown": cleaning.PlanMarkdown(snap.Schema, cfg),
	})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	if s.cleaner == nil {
		s.fail(w, r, http.StatusServiceUnavailable, errors.New("cleaning service is not configured"))
		return
	}
	var req cleanRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.fail(w, r, http.StatusBadRequest, describeValidation(err))
		return
	}
	mode, _ := cleaning.ParseMode(req.Mode)
	if mode == cleaning.ModeManual && req.Config == nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("manual mode needs a config"))
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// An upload, fetch or reset that starts after this supersedes the result.
	before, gen, err := sess.BeginFrom()
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	creq := cleaning.Request{Mode: mode, Schema: &before.Schema}
	if req.Config != nil {
		creq.Config = *req.Config
	}
	res, err := s.cleaner.Clean(r.Context(), before.Dataset, creq)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		s.fail(w, r, status, err)
		return
	}

	after, err := sess.Commit(r.Context(), gen, res.Dataset.Name, res.Dataset)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cleanResponse{
		snapshotResponse: newSnapshotResponse(after),
		Mode:             res.Mode,
		Config:           res.Config,
		Report:           res.Report,
		ReportHTML:       res.ReportHTML,
		Comparison:       report.Compare(before, after),
		Usage:            res.Usage,
		CostUSD:          res.CostUSD,
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := parser.EncodeCSV(&buf, snap.Dataset); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(snap, ".csv")))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := parser.EncodeXLSX(&buf, snap.Dataset); err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportName(snap, ".xlsx")))
	_, _ = w.Write(buf.Bytes())
}

func exportName(snap *session.Snapshot, ext string) string {
	name := snap.Dataset.Name
	if name == "" {
		name = "dataset"
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}
