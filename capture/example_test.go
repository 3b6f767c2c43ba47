package capture_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/jonwraymond/httpobserve/capture"
)

func ExampleNewMiddleware() {
	mw := capture.NewMiddleware(capture.Deps{}, capture.DefaultOptions())
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "created")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	fmt.Println(rec.Code, rec.Body.String())
	fmt.Println("request id set:", rec.Header().Get(capture.RequestIDHeader) != "")
	// Output:
	// 201 created
	// request id set: true
}

func ExampleNewModule() {
	m := capture.NewModule(capture.Deps{}, capture.DefaultOptions())
	defer m.Close(context.Background())

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := capture.ExchangeFromContext(r.Context())
		fmt.Println("captured:", ex != nil)
		fmt.Fprint(w, "ok")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/1", nil))
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	// Output:
	// captured: true
	// captured: false
}

func ExampleModule_OnBegin() {
	m := capture.NewModule(capture.Deps{}, capture.DefaultOptions())
	defer m.Close(context.Background())

	rec := httptest.NewRecorder()
	ex := m.OnBegin(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	fmt.Fprint(ex.ResponseWriter(), "report")
	m.OnEnd(ex)

	fmt.Println(rec.Code, rec.Body.String())
	// Output: 200 report
}

func ExampleErrorType() {
	fmt.Println(capture.ErrorType(http.StatusNotFound))
	fmt.Println(capture.ErrorType(capture.StatusClientClosedRequest))
	fmt.Println(capture.ErrorType(http.StatusInsufficientStorage))
	// Output:
	// not_found
	// client_closed_request
	// server_error
}

func ExampleOptions_Excluded() {
	opts := capture.DefaultOptions()
	fmt.Println(opts.Excluded("/health/live"))
	fmt.Println(opts.Excluded("/api/users"))
	// Output:
	// true
	// false
}
