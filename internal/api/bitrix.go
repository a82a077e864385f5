// Package api реализует клиент REST-вебхука Bitrix24 для смарт-процессов.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"foreman_bot/internal/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Методы CRM, которые использует бот.
const (
	MethodTypeList      = "crm.type.list"
	MethodItemFields    = "crm.item.fields"
	MethodUserfieldList = "crm.item.userfield.list"
	MethodItemList      = "crm.item.list"
	MethodItemAdd       = "crm.item.add"
	MethodItemUpdate    = "crm.item.update"
	MethodItemGet       = "crm.item.get"
)

// RemoteError - CRM отклонила запрос и вернула {error, error_description}.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ошибка CRM %s", e.Code)
	}
	return fmt.Sprintf("ошибка CRM %s: %s", e.Code, e.Message)
}

// TransportError - сетевой сбой, таймаут или нечитаемый ответ.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ошибка связи с CRM (%s): %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Response - конверт ответа CRM.
type Response struct {
	Result  json.RawMessage
	Next    int
	HasNext bool
	Total   int
}

// Decode разбирает поле result в v.
func (r *Response) Decode(v any) error {
	if len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("ошибка декодирования результата: %w", err)
	}
	return nil
}

// Client представляет клиент для работы с вебхуком CRM.
// Повторных попыток клиент не делает: политика повторов на стороне вызывающего.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	log        *zap.Logger

	// mutateMu выстраивает изменяющие вызовы в очередь.
	mutateMu sync.Mutex
}

// NewClient создает новый клиент API
func NewClient(webhookURL string, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(webhookURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
		log:     log.Named("crm"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bitrix",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var te *TransportError
			return err == nil || !errors.As(err, &te)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("состояние предохранителя CRM изменилось",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

func isMutating(method string) bool {
	return strings.HasSuffix(method, ".add") || strings.HasSuffix(method, ".update") || strings.HasSuffix(method, ".delete")
}

// Call выполняет метод CRM с JSON-телом payload.
func (c *Client) Call(ctx context.Context, method string, payload any) (*Response, error) {
	if isMutating(method) {
		c.mutateMu.Lock()
		defer c.mutateMu.Unlock()
	}

	start := time.Now()
	if c.metrics != nil {
		c.metrics.IncAPIRequests(method)
		defer func() {
			c.metrics.UpdateLatency(method, time.Since(start))
		}()
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, method, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &TransportError{Method: method, Err: err}
		}
		c.countError(err)
		c.log.Warn("вызов CRM завершился ошибкой", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) countError(err error) {
	if c.metrics == nil {
		return
	}
	var re *RemoteError
	if errors.As(err, &re) {
		c.metrics.IncAPIErrors("remote")
		return
	}
	c.metrics.IncAPIErrors("transport")
}

func (c *Client) do(ctx context.Context, method string, payload any) (*Response, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/%s.json", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("ошибка чтения ответа: %w", err)}
	}

	var env struct {
		Result           json.RawMessage `json:"result"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Next             *int            `json:"next"`
		Total            int             `json:"total"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &RemoteError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		}
		return nil, &TransportError{Method: method, Err: fmt.Errorf("ошибка декодирования ответа: %w", err)}
	}
	if env.Error != "" {
		return nil, &RemoteError{Code: env.Error, Message: env.ErrorDescription}
	}
	if resp.StatusCode >= 400 {
		return nil, &RemoteError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}

	out := &Response{Result: env.Result, Total: env.Total}
	if env.Next != nil {
		out.Next = *env.Next
		out.HasNext = true
	}
	return out, nil
}
