package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingCount_SumsNonTerminalStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(progressView{ByState: map[string]int{
			"assigned":  2,
			"running":   1,
			"verifying": 1,
			"completed": 5,
			"failed":    1,
		}})
	}))
	defer srv.Close()

	count, err := pendingCount(srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

func TestPendingCount_ZeroWhenAllTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(progressView{ByState: map[string]int{
			"completed": 3,
			"cancelled": 1,
		}})
	}))
	defer srv.Close()

	count, err := pendingCount(srv.Client(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestPendingCount_ErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := pendingCount(srv.Client(), srv.URL)
	require.Error(t, err)
}
