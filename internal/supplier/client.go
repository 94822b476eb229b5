package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderrecon/internal/domain"
)

const (
	// DefaultBaseURL: шлюз синхронных вызовов API поставщика.
	DefaultBaseURL = "https://api-sg.aliexpress.com/sync"

	MethodOrderGet    = "aliexpress.trade.ds.order.get"
	MethodTrackingGet = "aliexpress.ds.order.tracking.get"

	paramAppKey     = "app_key"
	paramMethod     = "method"
	paramSession    = "session"
	paramTimestamp  = "timestamp"
	paramFormat     = "format"
	paramVersion    = "v"
	paramSignMethod = "sign_method"
	paramSign       = "sign"

	defaultCallTimeout = 15 * time.Second
	maxResponseBytes   = 2 << 20
)

var errMalformedEnvelope = errors.New("malformed supplier response envelope")

// Client: клиент API поставщика с подписью запросов.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
	validate    *validator.Validate
	logger      *log.Entry
	now         func() time.Time
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithHTTPClient задаёт http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCallTimeout ограничивает время одного удалённого вызова.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock подменяет источник времени для подписи (используется в тестах).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient создаёт клиента. Пустой baseURL означает DefaultBaseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
		callTimeout: defaultCallTimeout,
		validate:    validator.New(),
		now:         time.Now,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "supplier-client")
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	return c
}

// GetOrder запрашивает статус заказа у поставщика.
func (c *Client) GetOrder(ctx context.Context, creds domain.SupplierCredentials, supplierOrderID string) (OrderInfo, error) {
	query, err := json.Marshal(map[string]string{"order_id": supplierOrderID})
	if err != nil {
		return OrderInfo{}, fmt.Errorf("marshal order query: %w", err)
	}

	var result orderResult
	if err := c.call(ctx, creds, MethodOrderGet, map[string]string{"single_order_query": string(query)}, &result); err != nil {
		return OrderInfo{}, err
	}

	info := OrderInfo{
		SupplierOrderID: supplierOrderID,
		Status:          result.OrderStatus,
		LogisticsStatus: result.LogisticsStatus,
		TrackingNumber:  result.TrackingNumber,
	}
	for _, li := range result.LogisticsInfoList.Items {
		if info.TrackingNumber == "" {
			info.TrackingNumber = li.LogisticsNo
		}
		if info.Carrier == "" {
			info.Carrier = li.LogisticsService
		}
	}
	for _, child := range result.ChildOrderList.Items {
		info.EndReasons = append(info.EndReasons, child.EndReason)
	}
	return info, nil
}

// GetTracking запрашивает отметки трекинга по заказу поставщика.
func (c *Client) GetTracking(ctx context.Context, creds domain.SupplierCredentials, supplierOrderID string) (TrackingInfo, error) {
	var result trackingResult
	if err := c.call(ctx, creds, MethodTrackingGet, map[string]string{"ae_order_id": supplierOrderID, "language": "en_US"}, &result); err != nil {
		return TrackingInfo{}, err
	}

	var info TrackingInfo
	for _, line := range result.Data.Lines.Items {
		if info.TrackingNumber == "" {
			info.TrackingNumber = line.MailNo
			info.Carrier = line.CarrierName
		}
		for _, node := range line.Nodes.Items {
			info.Milestones = append(info.Milestones, Milestone{
				Name:        node.Name,
				Description: node.Description,
				TimeStamp:   node.TimeStamp,
			})
		}
	}
	return info, nil
}

// SignedParams собирает системные параметры, добавляет payload и подпись.
func (c *Client) SignedParams(creds domain.SupplierCredentials, method string, payload map[string]string) map[string]string {
	params := map[string]string{
		paramAppKey:     creds.AppKey,
		paramMethod:     method,
		paramSession:    creds.AccessToken,
		paramTimestamp:  strconv.FormatInt(c.now().UnixMilli(), 10),
		paramFormat:     "json",
		paramVersion:    "2.0",
		paramSignMethod: "sha256",
	}
	for k, v := range payload {
		params[k] = v
	}
	params[paramSign] = Sign(params, creds.AppSecret)
	return params
}

func (c *Client) call(ctx context.Context, creds domain.SupplierCredentials, method string, payload map[string]string, out any) error {
	if !creds.Complete() {
		return domain.ErrSupplierCredentialsMissing
	}

	values := url.Values{}
	for k, v := range c.SignedParams(creds, method, payload) {
		values.Set(k, v)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	c.logger.WithFields(log.Fields{
		"method":      method,
		"http_status": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("supplier api call finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("call %s: unexpected http status %d", method, resp.StatusCode)
	}

	return c.decodeEnvelope(method, body, out)
}

// decodeEnvelope разбирает конверт {"<method>_response": {"result": ...}} или {"error_response": {...}}.
func (c *Client) decodeEnvelope(method string, body []byte, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%s: %w: %v", method, errMalformedEnvelope, err)
	}

	if raw, ok := envelope["error_response"]; ok {
		apiErr := &APIError{}
		if err := json.Unmarshal(raw, apiErr); err != nil {
			return fmt.Errorf("%s: %w: error_response: %v", method, errMalformedEnvelope, err)
		}
		return apiErr
	}

	responseKey := strings.ReplaceAll(method, ".", "_") + "_response"
	raw, ok := envelope[responseKey]
	if !ok {
		for key, value := range envelope {
			if strings.HasSuffix(key, "_response") {
				raw, ok = value, true
				break
			}
		}
	}
	if !ok {
		return fmt.Errorf("%s: %w: no response object", method, errMalformedEnvelope)
	}

	var response struct {
		Result  json.RawMessage `json:"result"`
		RspCode json.RawMessage `json:"rsp_code"`
		RspMsg  string          `json:"rsp_msg"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("%s: %w: %v", method, errMalformedEnvelope, err)
	}
	if code := strings.Trim(string(response.RspCode), `"`); code != "" && code != "200" {
		return &APIError{Code: code, Message: response.RspMsg}
	}
	if len(response.Result) == 0 || string(response.Result) == "null" {
		return fmt.Errorf("%s: %w: empty result", method, errMalformedEnvelope)
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("%s: %w: result: %v", method, errMalformedEnvelope, err)
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("%s: %w: %v", method, errMalformedEnvelope, err)
	}
	return nil
}

// IsMalformedResponse сообщает, что ответ поставщика не удалось разобрать.
func IsMalformedResponse(err error) bool {
	return errors.Is(err, errMalformedEnvelope)
}
