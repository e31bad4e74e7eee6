// Package server exposes the dewarping engine over HTTP.
//
//	POST /dewarp       image body, flattened image response
//	GET  /healthz      liveness
//	GET  /metrics      Prometheus exposition
//
// POST /dewarp accepts the query parameters binary=false (continuous-tone
// output), format=png|jpeg|tiff and fallback=original (return the uploaded
// image instead of an error when the server is busy or the run times out).
// The outcome kind is reported in the X-Dewarp-Status header.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"page-dewarp/internal/dewarp"
	"page-dewarp/internal/imageio"
	"page-dewarp/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

// Response headers.
const (
	HeaderStatus    = "X-Dewarp-Status"
	HeaderRequestID = "X-Request-Id"
	HeaderRunID     = "X-Dewarp-Run"
)

// Options bounds the resources a server spends on requests.
type Options struct {
	// Timeout caps the wall time of one dewarp run. Zero means no limit.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous runs; further requests are refused.
	MaxConcurrent int
	// MaxBodyBytes caps the upload size.
	MaxBodyBytes int64
}

// DefaultOptions returns limits suitable for a single small host.
func DefaultOptions() Options {
	return Options{
		Timeout:       60 * time.Second,
		MaxConcurrent: 4,
		MaxBodyBytes:  64 << 20,
	}
}

// Server handles dewarp requests.
type Server struct {
	engine   *dewarp.Engine
	config   dewarp.Config
	opts     Options
	metrics  *metrics.Collectors
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	sem      chan struct{}
}

// New creates a server. When m is non-nil it is installed as the engine's
// observer and its HTTP collectors wrap the dewarp endpoint; g serves
// /metrics.
func New(engine *dewarp.Engine, cfg dewarp.Config, opts Options, m *metrics.Collectors,
	g prometheus.Gatherer, logger zerolog.Logger) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultOptions().MaxBodyBytes
	}
	if m != nil {
		engine.Observer = m
	}
	return &Server{
		engine:   engine,
		config:   cfg,
		opts:     opts,
		metrics:  m,
		gatherer: g,
		log:      logger.With().Str("component", "DEWARP_HTTP").Logger(),
		sem:      make(chan struct{}, opts.MaxConcurrent),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	var dewarpHandler http.Handler = http.HandlerFunc(s.serveDewarp)
	if s.metrics != nil {
		dewarpHandler = s.metrics.Instrument("dewarp", dewarpHandler)
	}
	mux.Handle("/dewarp", dewarpHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type request struct {
	cfg      dewarp.Config
	format   imageio.Format
	fallback bool
}

func (s *Server) parseQuery(r *http.Request) (request, error) {
	q := r.URL.Query()
	req := request{cfg: s.config, format: imageio.PNG}
	if v := q.Get("binary"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("binary: %w", err)
		}
		req.cfg = req.cfg.WithBinary(b)
	}
	switch v := q.Get("format"); v {
	case "", "png":
	case "jpeg", "jpg":
		req.format = imageio.JPEG
	case "tiff", "tif":
		req.format = imageio.TIFF
	default:
		return req, fmt.Errorf("unknown format %q", v)
	}
	switch v := q.Get("fallback"); v {
	case "":
	case "original":
		req.fallback = true
	default:
		return req, fmt.Errorf("unknown fallback %q", v)
	}
	return req, nil
}

// errorBody is the JSON body of failed requests.
type errorBody struct {
	Error     string `json:"error"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

func (s *Server) writeError(w http.ResponseWriter, code int, kind dewarp.Kind, requestID string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderStatus, kind.String())
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Status: kind.String(), RequestID: requestID})
}

// writeOriginal answers with the uploaded bytes unchanged.
func writeOriginal(w http.ResponseWriter, body []byte, kind dewarp.Kind) {
	w.Header().Set("Content-Type", http.DetectContentType(body))
	w.Header().Set(HeaderStatus, kind.String())
	_, _ = w.Write(body)
}

func (s *Server) serveDewarp(w http.ResponseWriter, r *http.Request) {
	requestID := ksuid.New().String()
	w.Header().Set(HeaderRequestID, requestID)
	logger := s.log.With().Str("request", requestID).Logger()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := s.parseQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, dewarp.ConfigValidationError, requestID, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, dewarp.ResourceExhausted, requestID, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, dewarp.ConfigValidationError, requestID, err)
		return
	}

	// Refuse rather than queue when every slot is busy.
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warn().Int("limit", s.opts.MaxConcurrent).Msg("no free slot, refusing request")
		s.exhausted(w, req, body, requestID, dewarp.Exhausted("admit", errors.New("too many concurrent requests")))
		return
	}

	src, err := imageio.Decode(body)
	if err != nil {
		<-s.sem
		logger.Warn().Err(err).Msg("undecodable upload")
		s.writeError(w, http.StatusBadRequest, dewarp.ConfigValidationError, requestID, err)
		return
	}
	logger.Debug().Str("format", src.Format).Int("width", src.Image.W).Int("height", src.Image.H).
		Msg("dewarp request")

	ctx := r.Context()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	type outcome struct {
		res *dewarp.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		// The slot stays taken until the run really ends, even when the
		// client has already been answered.
		defer func() { <-s.sem }()
		res, err := s.engine.Dewarp(src.Image, req.cfg, dewarp.Options{})
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Dur("timeout", s.opts.Timeout).Msg("dewarp run abandoned")
		s.exhausted(w, req, body, requestID, dewarp.Exhausted("dewarp", ctx.Err()))
		return
	}

	if out.res == nil {
		code := http.StatusInternalServerError
		if errors.Is(out.err, dewarp.ErrConfigValidation) {
			code = http.StatusBadRequest
		}
		s.writeError(w, code, dewarp.KindOf(out.err), requestID, out.err)
		return
	}
	if out.err != nil {
		logger.Warn().Err(out.err).Msg("returning original image")
	}

	w.Header().Set("Content-Type", req.format.ContentType())
	w.Header().Set(HeaderStatus, out.res.Status.String())
	w.Header().Set(HeaderRunID, out.res.Diagnostics.RunID)
	if err := imageio.Encode(w, out.res.Image, req.format); err != nil {
		logger.Error().Err(err).Msg("http write() failed")
	}
}

// exhausted answers a request refused for lack of time or capacity.
func (s *Server) exhausted(w http.ResponseWriter, req request, body []byte, requestID string, err error) {
	if s.metrics != nil {
		s.metrics.Rejected(dewarp.ResourceExhausted)
	}
	if req.fallback {
		writeOriginal(w, body, dewarp.ResourceExhausted)
		return
	}
	w.Header().Set("Retry-After", "1")
	s.writeError(w, http.StatusServiceUnavailable, dewarp.ResourceExhausted, requestID, err)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("listenAddr", addr).Msg("Starting listener...")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.log.Info().Msg("shutting down, waiting for running requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
