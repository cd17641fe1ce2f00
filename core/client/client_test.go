// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/modelbind/core/access"
)

func echoRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/things", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		body["authorization"] = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(body)
	}).Methods(http.MethodPost)
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		acc := access.FromContext(r.Context())
		if acc == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"user_id": acc.UserID()})
	}).Methods(http.MethodGet)
	return router
}

func TestRawPost(t *testing.T) {
	c := NewWithRouter(echoRouter()).WithToken("secret")

	var result map[string]interface{}
	status, err := c.RawPost("/things", map[string]interface{}{"name": "widget"}, &result)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatalf("unexpected status %d", status)
	}
	if result["name"] != "widget" || result["authorization"] != "Bearer secret" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestRawGetWrongStatus(t *testing.T) {
	c := NewWithRouter(echoRouter())
	status, err := c.RawGet("/whoami", nil)
	if err == nil {
		t.Fatal("expected status error")
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", status)
	}
}

func TestWithAccess(t *testing.T) {
	acc := &access.Access{Token: &access.Token{UserID: "somebody"}}
	c := NewWithRouter(echoRouter()).WithAccess(acc)

	var result map[string]string
	if _, err := c.RawGet("/whoami", &result); err != nil {
		t.Fatal(err)
	}
	if result["user_id"] != "somebody" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestRawResult(t *testing.T) {
	c := NewWithRouter(echoRouter())

	var raw []byte
	status, err := c.RawPost("/things", []byte(`{"name":"widget"}`), &raw)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatalf("unexpected status %d", status)
	}
	if len(raw) == 0 {
		t.Fatal("raw result not captured")
	}
}
