package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// failingListener blocks in Accept until fail is closed, then errors.
type failingListener struct {
	net.Listener
	fail chan struct{}
}

func (l *failingListener) Accept() (net.Conn, error) {
	<-l.fail
	return nil, errors.New("accept: too many open files")
}

func TestRunDrainsHTTPAfterGRPCFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	started := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusOK)
	})

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	rawGRPC, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLis := &failingListener{Listener: rawGRPC, fail: make(chan struct{})}

	srv := &servers{
		http:    &http.Server{Handler: mux},
		httpLis: httpLis,
		grpc:    grpc.NewServer(),
		grpcLis: grpcLis,
		health:  health.NewServer(),
	}

	returned := make(chan struct{})
	go func() {
		srv.run(context.Background(), logger, make(chan os.Signal))
		close(returned)
	}()

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + httpLis.Addr().String() + "/slow")
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	close(grpcLis.fail)
	select {
	case <-returned:
		t.Fatal("run returned while an HTTP request was still in flight")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the request finished")
	}
	if got := <-status; got != http.StatusOK {
		t.Errorf("in-flight request status = %d, want %d", got, http.StatusOK)
	}
}

func TestRunStopsOnSignal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &servers{
		http:    &http.Server{Handler: http.NewServeMux()},
		httpLis: httpLis,
		grpc:    grpc.NewServer(),
		grpcLis: grpcLis,
		health:  health.NewServer(),
	}

	stop := make(chan os.Signal, 1)
	returned := make(chan struct{})
	go func() {
		srv.run(context.Background(), logger, stop)
		close(returned)
	}()

	stop <- os.Interrupt
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after a signal")
	}
}
