// Package decoder turns verified proof records into typed payloads.
package decoder

import (
	"fmt"
	"reflect"

	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"github.com/trufnetwork/fdc-relay/attestation"
)

type Decoder struct {
	logger *zap.Logger
}

type Option func(*Decoder)

func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) { d.logger = l.Named("decoder") }
}

func New(opts ...Option) *Decoder {
	d := &Decoder{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode interprets rec.Response according to spec. The record must have been
// verified; anything else is rejected with ErrDecode.
func (d *Decoder) Decode(spec attestation.Spec, rec *attestation.ProofRecord) (Payload, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil proof record", attestation.ErrDecode)
	}
	if !rec.Verified {
		return nil, fmt.Errorf("%w: proof record for round %d is not verified", attestation.ErrDecode, rec.RoundID)
	}

	var (
		p   Payload
		err error
	)
	switch spec.Type {
	case attestation.TypeFeedData:
		p, err = DecodeFeedData(rec.Response)
	case attestation.TypeEVMTransaction:
		p, err = d.decodeEVMTransaction(spec, rec.Response)
	case attestation.TypeWeb2Json:
		p, err = d.decodeWeb2Json(spec, rec.Response)
	default:
		err = fmt.Errorf("%w: unsupported attestation type %q", attestation.ErrDecode, spec.Type)
	}
	if err != nil {
		return nil, err
	}

	if p.Round() != rec.RoundID {
		return nil, fmt.Errorf("%w: payload round %d does not match proof round %d", attestation.ErrDecode, p.Round(), rec.RoundID)
	}
	d.logger.Debug("decoded payload",
		zap.String("type", string(spec.Type)),
		zap.Uint64("round", rec.RoundID))
	return p, nil
}

// DecodeFeedData decodes one abi encoded FeedData struct.
func DecodeFeedData(raw []byte) (*FeedPayload, error) {
	var out FeedPayload
	if err := unpackInto(feedDataArgs, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Decoder) decodeEVMTransaction(spec attestation.Spec, raw []byte) (*EVMTransactionPayload, error) {
	var out EVMTransactionPayload
	if err := unpackInto(evmTransactionArgs, raw, &out); err != nil {
		return nil, err
	}
	if err := checkHeader(spec, out.header()); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *Decoder) decodeWeb2Json(spec attestation.Spec, raw []byte) (*Web2JsonPayload, error) {
	var resp web2JsonResponse
	if err := unpackInto(web2JsonArgs, raw, &resp); err != nil {
		return nil, err
	}
	header := ResponseHeader{resp.AttestationType, resp.SourceID, resp.VotingRound, resp.LowestUsedTimestamp}
	if err := checkHeader(spec, header); err != nil {
		return nil, err
	}

	fields, err := DecodeData(spec.ResponseABI, resp.ResponseBody.AbiEncodedData)
	if err != nil {
		return nil, err
	}
	return &Web2JsonPayload{
		Header:       header,
		RequestBody:  resp.RequestBody,
		ResponseBody: resp.ResponseBody,
		Fields:       fields,
	}, nil
}

// DecodeData decodes abi encoded data with the declared signature into a map
// keyed by component name. A signature that is not a tuple yields a single
// entry named after the argument, or "value" when it has no name.
func DecodeData(signature string, data []byte) (map[string]any, error) {
	args, err := ParseSignature(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attestation.ErrDecode, err)
	}
	values, err := unpack(args, data)
	if err != nil {
		return nil, err
	}

	t := args[0].Type
	if t.T == gethAbi.TupleTy {
		return toFields(t, reflect.ValueOf(values[0])).(map[string]any), nil
	}
	name := args[0].Name
	if name == "" {
		name = "value"
	}
	return map[string]any{name: toFields(t, reflect.ValueOf(values[0]))}, nil
}

func checkHeader(spec attestation.Spec, h ResponseHeader) error {
	if h.AttestationType != spec.Type.Bytes32() {
		return fmt.Errorf("%w: response attestation type %s, want %s", attestation.ErrDecode,
			attestation.Bytes32Hex(h.AttestationType), attestation.Bytes32Hex(spec.Type.Bytes32()))
	}
	if h.SourceID != spec.SourceID.Bytes32() {
		return fmt.Errorf("%w: response source id %s, want %s", attestation.ErrDecode,
			attestation.Bytes32Hex(h.SourceID), attestation.Bytes32Hex(spec.SourceID.Bytes32()))
	}
	return nil
}

func unpack(args gethAbi.Arguments, raw []byte) ([]interface{}, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty response", attestation.ErrDecode)
	}
	values, err := args.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attestation.ErrDecode, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: expected 1 value, got %d", attestation.ErrDecode, len(values))
	}
	return values, nil
}

// unpackInto decodes raw and copies the single tuple value onto dst, whose
// fields must follow the tuple component order.
func unpackInto(args gethAbi.Arguments, raw []byte, dst any) (err error) {
	values, err := unpack(args, raw)
	if err != nil {
		return err
	}
	// abi.ConvertType panics when the shapes differ.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", attestation.ErrDecode, r)
		}
	}()
	gethAbi.ConvertType(values[0], dst)
	return nil
}

// toFields converts an unpacked value to plain maps and slices so it can be
// inspected without knowing the generated struct type.
func toFields(t gethAbi.Type, v reflect.Value) any {
	switch t.T {
	case gethAbi.TupleTy:
		out := make(map[string]any, len(t.TupleElems))
		for i, elem := range t.TupleElems {
			out[t.TupleRawNames[i]] = toFields(*elem, v.Field(i))
		}
		return out
	case gethAbi.SliceTy, gethAbi.ArrayTy:
		if t.Elem.T != gethAbi.TupleTy && t.Elem.T != gethAbi.SliceTy && t.Elem.T != gethAbi.ArrayTy {
			return v.Interface()
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = toFields(*t.Elem, v.Index(i))
		}
		return out
	}
	return v.Interface()
}
