package decoder

import (
	"fmt"
)

// EncodeFeedData abi encodes a FeedData struct. It is the Merkle leaf
// preimage for feed proofs.
func EncodeFeedData(p FeedPayload) ([]byte, error) {
	out, err := feedDataArgs.Pack(p)
	if err != nil {
		return nil, fmt.Errorf("encode FeedData: %w", err)
	}
	return out, nil
}

// EncodeEVMTransaction abi encodes an EVMTransaction response.
func EncodeEVMTransaction(p EVMTransactionPayload) ([]byte, error) {
	out, err := evmTransactionArgs.Pack(p)
	if err != nil {
		return nil, fmt.Errorf("encode EVMTransaction response: %w", err)
	}
	return out, nil
}

// EncodeWeb2Json abi encodes a Web2Json response. Fields is ignored; the inner
// data is taken from ResponseBody.AbiEncodedData.
func EncodeWeb2Json(p Web2JsonPayload) ([]byte, error) {
	out, err := web2JsonArgs.Pack(web2JsonResponse{
		AttestationType:     p.Header.AttestationType,
		SourceID:            p.Header.SourceID,
		VotingRound:         p.Header.VotingRound,
		LowestUsedTimestamp: p.Header.LowestUsedTimestamp,
		RequestBody:         p.RequestBody,
		ResponseBody:        p.ResponseBody,
	})
	if err != nil {
		return nil, fmt.Errorf("encode Web2Json response: %w", err)
	}
	return out, nil
}

// EncodeData abi encodes value with the declared signature. Tuple values are
// structs whose fields carry `abi` tags naming the components.
func EncodeData(signature string, value any) ([]byte, error) {
	args, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	out, err := args.Pack(value)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return out, nil
}
