package clients

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/examples/internal/metrics"
	"github.com/toncenter/examples/internal/types"
)

const bodyTypeRaw = "msg.dataRaw"

// ToncenterClient toncenter HTTP API v2 client
type ToncenterClient struct {
	client *resty.Client
}

// toncenterResponse envelope of every API v2 response
type toncenterResponse[T any] struct {
	OK     bool   `json:"ok"`
	Result T      `json:"result"`
	Error  string `json:"error"`
	Code   int    `json:"code"`
}

type toncenterTxID struct {
	LT   string `json:"lt"`
	Hash string `json:"hash"`
}

type toncenterMsgData struct {
	Type string `json:"@type"`
	Body string `json:"body"`
}

type toncenterMessage struct {
	Source      string            `json:"source"`
	Destination string            `json:"destination"`
	Value       string            `json:"value"`
	MsgData     *toncenterMsgData `json:"msg_data"`
}

type toncenterTransaction struct {
	TransactionID toncenterTxID      `json:"transaction_id"`
	Utime         int64              `json:"utime"`
	InMsg         *toncenterMessage  `json:"in_msg"`
	OutMsgs       []toncenterMessage `json:"out_msgs"`
}

type toncenterAddressInfo struct {
	SyncUtime int64 `json:"sync_utime"`
}

// NewToncenterClient creates a client for baseURL (e.g. https://toncenter.com/api/v2)
func NewToncenterClient(baseURL, apiKey string, timeout time.Duration) *ToncenterClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// transport errors and rate limiting only; API errors are final
			return err != nil || r.StatusCode() == 429
		})
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logrus.WithFields(logrus.Fields{
			"method": resp.Request.Method,
			"url":    resp.Request.URL,
			"status": resp.StatusCode(),
			"took":   resp.Time(),
		}).Debug("Toncenter API response")
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		logrus.WithError(err).WithField("url", req.URL).Debug("Toncenter API request failed")
	})

	return &ToncenterClient{client: client}
}

func observe(method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LedgerRequests.WithLabelValues(method, status).Inc()
	metrics.LedgerRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func checkResponse[T any](method string, resp *resty.Response, body *toncenterResponse[T]) error {
	if resp.IsError() || !body.OK {
		msg := body.Error
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("toncenter %s failed (%d): %s", method, resp.StatusCode(), msg)
	}
	return nil
}

// SendBoc submits a serialized external message
func (c *ToncenterClient) SendBoc(ctx context.Context, boc []byte) (err error) {
	defer func(start time.Time) { observe("sendBoc", start, err) }(time.Now())

	var body toncenterResponse[map[string]any]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"boc": base64.StdEncoding.EncodeToString(boc)}).
		SetResult(&body).
		SetError(&body).
		Post("/sendBoc")
	if err != nil {
		return fmt.Errorf("toncenter sendBoc request failed: %w", err)
	}
	return checkResponse("sendBoc", resp, &body)
}

// GetTransactions returns transactions of address, newest first
func (c *ToncenterClient) GetTransactions(ctx context.Context, address string, limit int, from *types.TransactionID, archival bool) (txs []types.Transaction, err error) {
	defer func(start time.Time) { observe("getTransactions", start, err) }(time.Now())

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("address", address).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("archival", strconv.FormatBool(archival))
	if from != nil {
		req.SetQueryParam("lt", strconv.FormatUint(from.LT, 10))
		req.SetQueryParam("hash", from.Hash)
	}

	var body toncenterResponse[[]toncenterTransaction]
	resp, err := req.SetResult(&body).SetError(&body).Get("/getTransactions")
	if err != nil {
		return nil, fmt.Errorf("toncenter getTransactions request failed: %w", err)
	}
	if err := checkResponse("getTransactions", resp, &body); err != nil {
		return nil, err
	}

	txs = make([]types.Transaction, 0, len(body.Result))
	for i := range body.Result {
		tx, err := convertTransaction(&body.Result[i])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetLedgerTime returns sync_utime of the API node
func (c *ToncenterClient) GetLedgerTime(ctx context.Context, address string) (utime int64, err error) {
	defer func(start time.Time) { observe("getExtendedAddressInfo", start, err) }(time.Now())

	var body toncenterResponse[toncenterAddressInfo]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("address", address).
		SetResult(&body).
		SetError(&body).
		Get("/getExtendedAddressInfo")
	if err != nil {
		return 0, fmt.Errorf("toncenter getExtendedAddressInfo request failed: %w", err)
	}
	if err := checkResponse("getExtendedAddressInfo", resp, &body); err != nil {
		return 0, err
	}
	return body.Result.SyncUtime, nil
}

func convertTransaction(raw *toncenterTransaction) (types.Transaction, error) {
	lt, err := strconv.ParseUint(raw.TransactionID.LT, 10, 64)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("invalid transaction lt %q: %w", raw.TransactionID.LT, err)
	}
	tx := types.Transaction{
		ID:    types.TransactionID{LT: lt, Hash: raw.TransactionID.Hash},
		Utime: raw.Utime,
	}
	if raw.InMsg != nil {
		msg := convertMessage(raw.InMsg)
		tx.InMsg = &msg
	}
	for i := range raw.OutMsgs {
		tx.OutMsgs = append(tx.OutMsgs, convertMessage(&raw.OutMsgs[i]))
	}
	return tx, nil
}

// convertMessage keeps the body only for raw bodies; a body that is not valid
// base64 is left empty and the classifier treats the record as malformed.
func convertMessage(raw *toncenterMessage) types.Message {
	msg := types.Message{
		Source:      raw.Source,
		Destination: raw.Destination,
		Value:       raw.Value,
	}
	if raw.MsgData == nil {
		return msg
	}
	msg.BodyType = raw.MsgData.Type
	if raw.MsgData.Type == bodyTypeRaw && raw.MsgData.Body != "" {
		if body, err := base64.StdEncoding.DecodeString(raw.MsgData.Body); err == nil {
			msg.Body = body
		}
	}
	return msg
}
