package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
)

func (s *Server) principal(r *http.Request) registrar.Principal {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		return registrar.Principal{}
	}
	return registrar.Principal{ID: p.ID, Elevated: p.IsAdmin()}
}

// readUpload returns the bytes of the multipart "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			api.Fail(w, r, http.StatusRequestEntityTooLarge, "",
				fmt.Sprintf("artifact exceeds %d bytes", s.maxUpload))
			return nil, false
		}
		api.Fail(w, r, http.StatusBadRequest, string(registrar.CodeInvalidInput), "expected multipart/form-data with a file field")
		return nil, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, _, err := r.FormFile("file")
	if err != nil {
		api.Fail(w, r, http.StatusBadRequest, string(registrar.CodeInvalidInput), "missing file field")
		return nil, false
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		api.Fail(w, r, http.StatusBadRequest, string(registrar.CodeInvalidInput), "failed to read upload")
		return nil, false
	}
	return data, true
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	content, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.reg.Publish(r.Context(), registrar.PublishRequest{
		PackageID:   r.PathValue("packageId"),
		Version:     r.PathValue("version"),
		Content:     content,
		Publisher:   s.principal(r),
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", res.DownloadRef)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	d, err := s.reg.GetRelease(r.Context(), r.PathValue("packageId"), r.PathValue("version"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	rels, err := s.reg.ListReleases(r.Context(), r.PathValue("packageId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"releases": rels})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	pkgID, ver := r.PathValue("packageId"), r.PathValue("version")
	dl, err := s.reg.FetchForDownload(r.Context(), pkgID, ver, s.principal(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", pkgID+"-"+ver))
	w.Header().Set("X-Content-Hash", dl.ContentHash)
	w.Header().Set("ETag", strconv.Quote(dl.ContentHash))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Content)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	content, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	res, err := s.reg.Validate(r.Context(), r.PathValue("packageId"), r.PathValue("version"), content)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDiscontinue(w http.ResponseWriter, r *http.Request) {
	res, err := s.reg.DiscontinueRelease(r.Context(), r.PathValue("packageId"), r.PathValue("version"), s.principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDiscontinuePackage(w http.ResponseWriter, r *http.Request) {
	report, err := s.reg.DiscontinuePackage(r.Context(), r.PathValue("packageId"), s.principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.Complete {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	removed, err := s.reg.SweepOrphans(r.Context(), r.PathValue("packageId"), s.principal(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.reg.AddComment(r.Context(), r.PathValue("packageId"), s.principal(r), req.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.reg.ListComments(r.Context(), r.PathValue("packageId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"comments": comments})
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		if p, err := auth.GetPrincipal(r.Context()); err == nil {
			req.Email = p.Email
		}
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		api.Fail(w, r, http.StatusBadRequest, string(registrar.CodeInvalidInput), "a valid email is required")
		return
	}
	if err := s.reg.Subscribe(r.Context(), r.PathValue("packageId"), s.principal(r), req.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Unsubscribe(r.Context(), r.PathValue("packageId"), s.principal(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		api.Fail(w, r, http.StatusBadRequest, string(registrar.CodeInvalidInput), "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps registrar error codes to HTTP status codes.
func statusFor(code registrar.ErrorCode) int {
	switch code {
	case registrar.CodeAlreadyExists:
		return http.StatusConflict
	case registrar.CodeNotFound:
		return http.StatusNotFound
	case registrar.CodeForbidden:
		return http.StatusForbidden
	case registrar.CodeUnavailable:
		return http.StatusGone
	case registrar.CodeTransient:
		return http.StatusServiceUnavailable
	case registrar.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := registrar.CodeOf(err)
	switch status := statusFor(code); status {
	case http.StatusInternalServerError:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		api.Internal(w, r, err)
	case http.StatusServiceUnavailable:
		s.logger.WarnContext(r.Context(), "transient failure", "path", r.URL.Path, "error", err)
		api.Unavailable(w, r, string(code), err.Error(), retryAfter)
	default:
		api.Fail(w, r, status, string(code), err.Error())
	}
}
