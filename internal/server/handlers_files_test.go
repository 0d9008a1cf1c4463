package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beenaround/backend/internal/users"
)

func (s *testServer) doMultipart(t *testing.T, method, path, token, field, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	request := httptest.NewRequest(method, path, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestFileUpload(t *testing.T) {
	server := newTestServer(t)
	token := server.registerAndLogin(t, "ada")

	response := server.doMultipart(t, http.MethodPost, "/files/upload", token, "file", "trip.jpg", "image-bytes")
	if response.Code != http.StatusOK {
		t.Fatalf("upload failed with %d: %s", response.Code, response.Body.String())
	}
	var meta struct {
		Filename string `json:"filename"`
		Path     string `json:"path"`
		Size     int64  `json:"size"`
	}
	decodeBody(t, response, &meta)
	if meta.Filename != "trip.jpg" || meta.Size != int64(len("image-bytes")) || meta.Path == "" {
		t.Fatalf("unexpected upload metadata: %+v", meta)
	}

	missing := server.do(t, http.MethodPost, "/files/upload", token, nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file part, got %d", missing.Code)
	}
}

func TestProfilePicLifecycle(t *testing.T) {
	server := newTestServer(t)
	token := server.registerAndLogin(t, "ada")

	// Deleting before any upload is a 404.
	response := server.do(t, http.MethodDelete, "/files/profile-pic", token, nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upload, got %d", response.Code)
	}

	put := server.doMultipart(t, http.MethodPut, "/files/profile-pic", token, "file", "me.png", "portrait")
	if put.Code != http.StatusOK {
		t.Fatalf("profile pic upload failed with %d: %s", put.Code, put.Body.String())
	}

	var record users.User
	if err := server.db.Where("username = ?", "ada").Take(&record).Error; err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if record.ProfilePicPath == "" {
		t.Fatalf("expected profile pic path on the account")
	}

	response = server.do(t, http.MethodDelete, "/files/profile-pic", token, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("delete failed with %d", response.Code)
	}
	if err := server.db.Where("username = ?", "ada").Take(&record).Error; err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if record.ProfilePicPath != "" {
		t.Fatalf("expected cleared profile pic path, got %q", record.ProfilePicPath)
	}
}
