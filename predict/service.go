package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// Probabilities is the fixed two-class shape of the boundary response.
type Probabilities struct {
	NotCanceled float64 `json:"not_canceled"`
	Canceled    float64 `json:"canceled"`
}

// Response is the JSON document returned to callers of Handle.
type Response struct {
	Success       bool           `json:"success"`
	Prediction    string         `json:"prediction,omitempty"`
	Probabilities *Probabilities `json:"probabilities,omitempty"`
	// Probabilistic is present, and false, only for placeholder probabilities.
	Probabilistic *bool  `json:"probabilistic,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Service is the prediction boundary. It loads the artifact on first use and
// turns every failure into a {success:false} response.
type Service struct {
	path          string
	positiveLabel string
	negativeLabel string
	opts          []Option
	logger        log.Logger

	mu        sync.Mutex
	predictor *Predictor
}

// NewService creates a Service for the artifact at path. Options are passed
// to the Predictor when it is built.
func NewService(path string, opts ...Option) *Service {
	return &Service{
		path:          path,
		positiveLabel: config.DefaultPositiveLabel,
		negativeLabel: config.DefaultNegativeLabel,
		opts:          opts,
		logger:        log.GetLoggerWithName("predict.service"),
	}
}

// NewServiceFromPredictor wraps an already built Predictor.
func NewServiceFromPredictor(p *Predictor) *Service {
	s := NewService("")
	s.predictor = p
	s.logger = p.logger
	return s
}

// load returns the cached predictor or builds it. A failed load is not
// cached, so an artifact written later is picked up by the next request.
func (s *Service) load() (*Predictor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.predictor != nil {
		return s.predictor, nil
	}
	p, err := Load(s.path, s.opts...)
	if err != nil {
		return nil, err
	}
	s.predictor = p
	s.logger.Info("Model artifact loaded",
		log.PathKey, s.path,
		log.RunIDKey, p.artifact.RunID,
		log.FeaturesKey, len(p.artifact.FeatureOrder),
	)
	return p, nil
}

// Handle decodes one JSON record, scores it and builds the response.
func (s *Service) Handle(ctx context.Context, body []byte) Response {
	p, err := s.load()
	if err != nil {
		return s.fail("model artifact unavailable, run the training pipeline first", err)
	}

	var rec Record
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return s.fail("request body is not a JSON object", err)
	}
	if rec == nil {
		return s.fail("request body is not a JSON object", errors.New("null record"))
	}

	pred, err := p.Predict(ctx, rec)
	if err != nil {
		return s.fail("", err)
	}

	pos, neg := s.positiveLabel, s.negativeLabel
	if a := p.artifact; a.PositiveLabel != "" && a.NegativeLabel != "" {
		pos, neg = a.PositiveLabel, a.NegativeLabel
	}
	resp := Response{
		Success:    true,
		Prediction: pred.Label,
		Probabilities: &Probabilities{
			NotCanceled: pred.Probabilities[neg],
			Canceled:    pred.Probabilities[pos],
		},
	}
	if !pred.Probabilistic {
		f := false
		resp.Probabilistic = &f
	}
	return resp
}

// HandleJSON is Handle with the response already encoded.
func (s *Service) HandleJSON(ctx context.Context, body []byte) ([]byte, error) {
	return json.Marshal(s.Handle(ctx, body))
}

// fail logs err with its stack and returns a response carrying only the
// message. Stack traces stay in the log.
func (s *Service) fail(msg string, err error) Response {
	s.logger.Error("Prediction failed", err,
		log.PhaseKey, log.PhaseInference,
		log.ErrorKindKey, errors.KindOf(err).String(),
	)
	if msg == "" {
		msg = err.Error()
	} else if errors.KindOf(err) != errors.KindUnknown {
		msg += ": " + err.Error()
	}
	return Response{Success: false, Error: msg}
}
