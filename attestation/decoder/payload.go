package decoder

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/cockroachdb/apd/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"

	"github.com/trufnetwork/fdc-relay/attestation"
)

// Payload is the decoded, verified response of one attestation. The concrete
// type is selected by the attestation type of the request:
//
//	EVMTransaction -> *EVMTransactionPayload
//	Web2Json       -> *Web2JsonPayload
//	FeedData       -> *FeedPayload
type Payload interface {
	AttestationType() attestation.Type
	// Round is the voting round the payload was proven in.
	Round() uint64
}

// ResponseHeader is common to every FDC response.
type ResponseHeader struct {
	AttestationType     [32]byte `abi:"attestationType"`
	SourceID            [32]byte `abi:"sourceId"`
	VotingRound         uint64   `abi:"votingRound"`
	LowestUsedTimestamp uint64   `abi:"lowestUsedTimestamp"`
}

type EVMTransactionRequestBody struct {
	TransactionHash       [32]byte `abi:"transactionHash"`
	RequiredConfirmations uint16   `abi:"requiredConfirmations"`
	ProvideInput          bool     `abi:"provideInput"`
	ListEvents            bool     `abi:"listEvents"`
	LogIndices            []uint32 `abi:"logIndices"`
}

type EVMEvent struct {
	LogIndex       uint32         `abi:"logIndex"`
	EmitterAddress common.Address `abi:"emitterAddress"`
	Topics         [][32]byte     `abi:"topics"`
	Data           []byte         `abi:"data"`
	Removed        bool           `abi:"removed"`
}

type EVMTransactionResponseBody struct {
	BlockNumber      uint64         `abi:"blockNumber"`
	Timestamp        uint64         `abi:"timestamp"`
	SourceAddress    common.Address `abi:"sourceAddress"`
	IsDeployment     bool           `abi:"isDeployment"`
	ReceivingAddress common.Address `abi:"receivingAddress"`
	Value            *big.Int       `abi:"value"`
	Input            []byte         `abi:"input"`
	Status           uint8          `abi:"status"`
	Events           []EVMEvent     `abi:"events"`
}

// EVMTransactionPayload mirrors the EVMTransaction response struct field for
// field; decoding relies on the field order.
type EVMTransactionPayload struct {
	AttestationType     [32]byte                   `abi:"attestationType"`
	SourceID            [32]byte                   `abi:"sourceId"`
	VotingRound         uint64                     `abi:"votingRound"`
	LowestUsedTimestamp uint64                     `abi:"lowestUsedTimestamp"`
	RequestBody         EVMTransactionRequestBody  `abi:"requestBody"`
	ResponseBody        EVMTransactionResponseBody `abi:"responseBody"`
}

func (p *EVMTransactionPayload) AttestationType() attestation.Type { return attestation.TypeEVMTransaction }
func (p *EVMTransactionPayload) Round() uint64                     { return p.VotingRound }

func (p *EVMTransactionPayload) header() ResponseHeader {
	return ResponseHeader{p.AttestationType, p.SourceID, p.VotingRound, p.LowestUsedTimestamp}
}

// Succeeded reports whether the proven transaction did not revert.
func (p *EVMTransactionPayload) Succeeded() bool {
	return p.ResponseBody.Status == 1
}

type Web2JsonRequestBody struct {
	URL           string `abi:"url"`
	HTTPMethod    string `abi:"httpMethod"`
	Headers       string `abi:"headers"`
	QueryParams   string `abi:"queryParams"`
	Body          string `abi:"body"`
	PostProcessJq string `abi:"postProcessJq"`
	AbiSignature  string `abi:"abiSignature"`
}

type Web2JsonResponseBody struct {
	AbiEncodedData []byte `abi:"abiEncodedData"`
}

type web2JsonResponse struct {
	AttestationType     [32]byte             `abi:"attestationType"`
	SourceID            [32]byte             `abi:"sourceId"`
	VotingRound         uint64               `abi:"votingRound"`
	LowestUsedTimestamp uint64               `abi:"lowestUsedTimestamp"`
	RequestBody         Web2JsonRequestBody  `abi:"requestBody"`
	ResponseBody        Web2JsonResponseBody `abi:"responseBody"`
}

// Web2JsonPayload is a Web2Json response whose inner data was decoded
// according to the declared response signature.
type Web2JsonPayload struct {
	Header       ResponseHeader
	RequestBody  Web2JsonRequestBody
	ResponseBody Web2JsonResponseBody
	// Fields holds the decoded data keyed by ABI component name. Nested tuples
	// become nested maps.
	Fields map[string]any
}

func (p *Web2JsonPayload) AttestationType() attestation.Type { return attestation.TypeWeb2Json }
func (p *Web2JsonPayload) Round() uint64                     { return p.Header.VotingRound }

// Into copies Fields onto dst, a pointer to a struct. Fields are matched by
// the `abi` struct tag, falling back to the field name. *big.Int values
// convert to any integer or string field.
func (p *Web2JsonPayload) Into(dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       bigIntHook,
		Result:           dst,
		TagName:          "abi",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", attestation.ErrDecode, err)
	}
	if err := dec.Decode(p.Fields); err != nil {
		return fmt.Errorf("%w: %v", attestation.ErrDecode, err)
	}
	return nil
}

var bigIntType = reflect.TypeOf((*big.Int)(nil))

func bigIntHook(from, to reflect.Type, data any) (any, error) {
	if from != bigIntType || to == bigIntType {
		return data, nil
	}
	v := data.(*big.Int)
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if !v.IsInt64() {
			return nil, fmt.Errorf("value %s overflows %s", v, to)
		}
		return v.Int64(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if !v.IsUint64() {
			return nil, fmt.Errorf("value %s overflows %s", v, to)
		}
		return v.Uint64(), nil
	case reflect.String:
		return v.String(), nil
	}
	return data, nil
}

// FeedPayload is a published FTSO feed value.
type FeedPayload struct {
	VotingRoundID uint32   `abi:"votingRoundId"`
	ID            [21]byte `abi:"id"`
	Value         int32    `abi:"value"`
	TurnoutBIPS   uint16   `abi:"turnoutBIPS"`
	Decimals      int8     `abi:"decimals"`
}

func (p *FeedPayload) AttestationType() attestation.Type { return attestation.TypeFeedData }
func (p *FeedPayload) Round() uint64                     { return uint64(p.VotingRoundID) }

func (p *FeedPayload) FeedID() attestation.FeedID {
	return attestation.FeedID(p.ID)
}

// Decimal returns Value scaled by 10^-Decimals.
func (p *FeedPayload) Decimal() *apd.Decimal {
	return apd.New(int64(p.Value), -int32(p.Decimals))
}
