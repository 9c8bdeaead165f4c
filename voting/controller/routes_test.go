package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/votex/core/txn"
	"go.dedis.ch/votex/election"
	"go.dedis.ch/votex/proxy"
	"go.dedis.ch/votex/voting"
)

func TestRoutes_Elections(t *testing.T) {
	inj := startSession(t)
	router := mountRoutes(t, inj)

	rec := serve(router, "/elections")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var views []electionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	require.Equal(t, "Board Election", views[0].Title)
	require.Equal(t, election.Active, views[0].Status)
	require.Len(t, views[0].Results, 2)
	require.Equal(t, election.Pending, views[1].Status)

	rec = serve(router, "/elections/1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ACTIVE"`)
	require.Contains(t, rec.Body.String(), `"turnout":0`)

	rec = serve(router, "/elections/99")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, "/elections/99999999999999999999999")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, "/elections/abc")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_Transaction(t *testing.T) {
	inj := startSession(t)
	router := mountRoutes(t, inj)

	rec := serve(router, "/transaction")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"inFlight":null}`, rec.Body.String())

	var svc *voting.Service
	require.NoError(t, inj.Resolve(&svc))

	_, err := svc.Connect(context.Background())
	require.NoError(t, err)

	id, err := svc.Vote(context.Background(), 1, 1, txn.AutoConfirm)
	require.NoError(t, err)

	rec = serve(router, "/transaction")
	require.JSONEq(t, `{"inFlight":null,"last":"`+id.String()+`"}`, rec.Body.String())
}

func TestRoutes_Notifications(t *testing.T) {
	inj := startSession(t)
	router := mountRoutes(t, inj)

	var svc *voting.Service
	require.NoError(t, inj.Resolve(&svc))

	_, err := svc.StartElection(context.Background(), 1)
	require.Error(t, err)

	_, err = svc.Connect(context.Background())
	require.NoError(t, err)

	rec := serve(router, "/notifications")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []struct {
		Level   string
		Message string
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Greater(t, len(items), 1)
	require.Equal(t, "error", items[0].Level)
	require.Equal(t, "Please connect your wallet first!", items[0].Message)
	require.Equal(t, "success", items[len(items)-1].Level)
	require.Equal(t, "Wallet connected successfully!", items[len(items)-1].Message)
}

// -----------------------------------------------------------------------------
// Utility functions

func mountRoutes(t *testing.T, inj interface{ Resolve(interface{}) error }) *mux.Router {
	var routes proxy.Routes
	require.NoError(t, inj.Resolve(&routes))

	router := mux.NewRouter()
	for _, route := range routes {
		router.HandleFunc(route.Path, route.Handler)
	}

	return router
}

func serve(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}
