package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	handler   http.Handler
	library   *library.Service
	recommend *recommend.Service
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend, err := store.NewFileBackend(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	indexes, err := index.NewMaintainer(index.MaintainerConfig{Backend: backend})
	if err != nil {
		t.Fatalf("failed to create maintainer: %v", err)
	}
	cache := recommend.NewCache(recommend.CacheConfig{})
	libraryService, err := library.NewService(library.ServiceConfig{
		Backend:     backend,
		Indexes:     indexes,
		IDProvider:  library.NewUUIDProvider(),
		Invalidator: cache,
	})
	if err != nil {
		t.Fatalf("failed to create library service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{
		Backend:    backend,
		Indexes:    indexes,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	recommendService, err := recommend.NewService(recommend.ServiceConfig{
		Catalog:  libraryService,
		Profiles: userService,
		Cache:    cache,
		Seed:     7,
	})
	if err != nil {
		t.Fatalf("failed to create recommendation service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        "shelf-api",
		Audience:      "shelf-clients",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:   issuer,
		Library:        libraryService,
		Users:          userService,
		Recommendation: recommendService,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return testServer{handler: handler, library: libraryService, recommend: recommendService}
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s testServer) mustRegister(t *testing.T, email string) authResponsePayload {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/auth/register", "", registerRequestPayload{
		Email:       email,
		Password:    "correct horse",
		DisplayName: email,
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	mustDecode(t, recorder, &response)
	return response
}

func (s testServer) mustCreateBook(t *testing.T, token, title string, genres ...string) library.Book {
	t.Helper()
	recorder := s.do(t, http.MethodPost, "/books", token, bookRequestPayload{Title: title, Author: "Author", Genres: genres})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create book %s: status %d body %s", title, recorder.Code, recorder.Body.String())
	}
	var book library.Book
	mustDecode(t, recorder, &book)
	return book
}

func mustDecode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
}

func assertStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status code: got %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}
