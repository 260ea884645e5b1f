package venue

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

const (
	TIFIoc = "Ioc"
	TIFGtc = "Gtc"

	OrderFilled  = "filled"
	OrderResting = "resting"
	OrderError   = "error"
)

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer signs exchange actions for one trading wallet.
type Signer interface {
	Address() string
	SignAction(action any, nonce int64) (Signature, error)
}

type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if raw == "" {
		return nil, fmt.Errorf("empty private key")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{key: key, address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}, nil
}

func (s *LocalSigner) Address() string { return s.address }

func (s *LocalSigner) SignAction(action any, nonce int64) (Signature, error) {
	hash, err := ActionHash(action, nonce)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

// ActionHash is keccak256(json(action) || big-endian nonce).
func ActionHash(action any, nonce int64) ([]byte, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(raw)+8)
	copy(buf, raw)
	binary.BigEndian.PutUint64(buf[len(raw):], uint64(nonce))
	return crypto.Keccak256(buf), nil
}

type OrderRequest struct {
	Asset      int
	IsBuy      bool
	LimitPx    string
	Size       string
	ReduceOnly bool
	TIF        string
	Cloid      string
}

type orderWire struct {
	A int           `json:"a"`
	B bool          `json:"b"`
	P string        `json:"p"`
	S string        `json:"s"`
	R bool          `json:"r"`
	T orderTypeWire `json:"t"`
	C string        `json:"c,omitempty"`
}

type orderTypeWire struct {
	Limit struct {
		TIF string `json:"tif"`
	} `json:"limit"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type OrderResult struct {
	Status  string
	OrderID string
	AvgPx   float64
	TotalSz float64
	Error   string
	Raw     json.RawMessage
}

// PlaceOrder signs and submits a single limit order. A venue-side rejection
// is reported as a result with Status=error, not as an error.
func (c *Client) PlaceOrder(ctx context.Context, signer Signer, req OrderRequest) (*OrderResult, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	tif := req.TIF
	if tif == "" {
		tif = TIFIoc
	}
	wire := orderWire{A: req.Asset, B: req.IsBuy, P: req.LimitPx, S: req.Size, R: req.ReduceOnly, C: req.Cloid}
	wire.T.Limit.TIF = tif
	action := orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"}

	nonce := time.Now().UTC().UnixMilli()
	sig, err := signer.SignAction(action, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	body, err := c.doJSON(ctx, "/exchange", map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
	})
	if err != nil {
		return nil, err
	}
	return parseOrderResponse(body)
}

func parseOrderResponse(body []byte) (*OrderResult, error) {
	out := &OrderResult{Raw: json.RawMessage(body)}
	var env struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if env.Status != "ok" {
		out.Status = OrderError
		var msg string
		if err := json.Unmarshal(env.Response, &msg); err != nil {
			msg = string(env.Response)
		}
		out.Error = msg
		return out, nil
	}
	var resp struct {
		Data struct {
			Statuses []struct {
				Filled *struct {
					TotalSz string      `json:"totalSz"`
					AvgPx   string      `json:"avgPx"`
					Oid     json.Number `json:"oid"`
				} `json:"filled"`
				Resting *struct {
					Oid json.Number `json:"oid"`
				} `json:"resting"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(env.Response, &resp); err != nil {
		return nil, fmt.Errorf("decode order statuses: %w", err)
	}
	if len(resp.Data.Statuses) == 0 {
		out.Status = OrderError
		out.Error = "no order status in response"
		return out, nil
	}
	st := resp.Data.Statuses[0]
	switch {
	case st.Filled != nil:
		out.Status = OrderFilled
		out.OrderID = st.Filled.Oid.String()
		out.AvgPx = parseFloat(st.Filled.AvgPx)
		out.TotalSz = parseFloat(st.Filled.TotalSz)
	case st.Resting != nil:
		out.Status = OrderResting
		out.OrderID = st.Resting.Oid.String()
	default:
		out.Status = OrderError
		out.Error = st.Error
	}
	return out, nil
}

// RoundSigFigs rounds v to sig significant figures.
func RoundSigFigs(v float64, sig int) float64 {
	if v == 0 || sig <= 0 {
		return v
	}
	d := math.Ceil(math.Log10(math.Abs(v)))
	mag := math.Pow(10, float64(sig)-d)
	return math.Round(v*mag) / mag
}

func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FloorSize truncates size to the asset's size decimals.
func FloorSize(size decimal.Decimal, szDecimals int) decimal.Decimal {
	return size.RoundDown(int32(szDecimals))
}
