package decoder

import (
	"encoding/json"
	"fmt"

	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/trufnetwork/fdc-relay/attestation"
)

var (
	feedDataArgs       gethAbi.Arguments
	evmTransactionArgs gethAbi.Arguments
	web2JsonArgs       gethAbi.Arguments

	responseComponents = map[attestation.Type][]gethAbi.ArgumentMarshaling{}
)

func component(name, typ string, components ...gethAbi.ArgumentMarshaling) gethAbi.ArgumentMarshaling {
	return gethAbi.ArgumentMarshaling{Name: name, Type: typ, Components: components}
}

func responseHeader() []gethAbi.ArgumentMarshaling {
	return []gethAbi.ArgumentMarshaling{
		component("attestationType", "bytes32"),
		component("sourceId", "bytes32"),
		component("votingRound", "uint64"),
		component("lowestUsedTimestamp", "uint64"),
	}
}

func mustTuple(what string, components []gethAbi.ArgumentMarshaling) gethAbi.Arguments {
	t, err := gethAbi.NewType("tuple", "", components)
	if err != nil {
		panic(fmt.Sprintf("decoder: failed to initialise %s ABI type: %v", what, err))
	}
	return gethAbi.Arguments{{Type: t}}
}

func init() {
	responseComponents[attestation.TypeFeedData] = []gethAbi.ArgumentMarshaling{
		component("votingRoundId", "uint32"),
		component("id", "bytes21"),
		component("value", "int32"),
		component("turnoutBIPS", "uint16"),
		component("decimals", "int8"),
	}

	responseComponents[attestation.TypeEVMTransaction] = append(responseHeader(),
		component("requestBody", "tuple",
			component("transactionHash", "bytes32"),
			component("requiredConfirmations", "uint16"),
			component("provideInput", "bool"),
			component("listEvents", "bool"),
			component("logIndices", "uint32[]"),
		),
		component("responseBody", "tuple",
			component("blockNumber", "uint64"),
			component("timestamp", "uint64"),
			component("sourceAddress", "address"),
			component("isDeployment", "bool"),
			component("receivingAddress", "address"),
			component("value", "uint256"),
			component("input", "bytes"),
			component("status", "uint8"),
			component("events", "tuple[]",
				component("logIndex", "uint32"),
				component("emitterAddress", "address"),
				component("topics", "bytes32[]"),
				component("data", "bytes"),
				component("removed", "bool"),
			),
		),
	)

	responseComponents[attestation.TypeWeb2Json] = append(responseHeader(),
		component("requestBody", "tuple",
			component("url", "string"),
			component("httpMethod", "string"),
			component("headers", "string"),
			component("queryParams", "string"),
			component("body", "string"),
			component("postProcessJq", "string"),
			component("abiSignature", "string"),
		),
		component("responseBody", "tuple",
			component("abiEncodedData", "bytes"),
		),
	)

	feedDataArgs = mustTuple("FeedData", responseComponents[attestation.TypeFeedData])
	evmTransactionArgs = mustTuple("EVMTransaction.Response", responseComponents[attestation.TypeEVMTransaction])
	web2JsonArgs = mustTuple("Web2Json.Response", responseComponents[attestation.TypeWeb2Json])
}

// ParseSignature parses a declared response shape given as a JSON ABI
// argument, e.g. {"type":"tuple","components":[{"name":"matchId","type":"uint256"}]}.
func ParseSignature(signature string) (gethAbi.Arguments, error) {
	var arg gethAbi.ArgumentMarshaling
	if err := json.Unmarshal([]byte(signature), &arg); err != nil {
		return nil, fmt.Errorf("parse abi signature: %w", err)
	}
	if arg.Type == "" {
		return nil, fmt.Errorf("abi signature has no type")
	}
	t, err := gethAbi.NewType(arg.Type, arg.InternalType, arg.Components)
	if err != nil {
		return nil, fmt.Errorf("abi signature type: %w", err)
	}
	return gethAbi.Arguments{{Name: arg.Name, Type: t}}, nil
}

// IsDynamic reports whether t is encoded out of place (with an offset) by the
// ABI: strings, bytes, dynamic arrays and tuples or arrays containing them.
func IsDynamic(t gethAbi.Type) bool {
	switch t.T {
	case gethAbi.StringTy, gethAbi.BytesTy, gethAbi.SliceTy:
		return true
	case gethAbi.ArrayTy:
		return IsDynamic(*t.Elem)
	case gethAbi.TupleTy:
		for _, elem := range t.TupleElems {
			if IsDynamic(*elem) {
				return true
			}
		}
	}
	return false
}

// ResponseComponents returns the components of the response struct for an
// attestation type. The slice is a copy.
func ResponseComponents(t attestation.Type) ([]gethAbi.ArgumentMarshaling, error) {
	c, ok := responseComponents[t]
	if !ok {
		return nil, fmt.Errorf("no response type for %q", t)
	}
	return append([]gethAbi.ArgumentMarshaling(nil), c...), nil
}

// ResponseType returns the ABI type of the response struct for an attestation
// type with a fixed shape.
func ResponseType(t attestation.Type) (gethAbi.Type, error) {
	switch t {
	case attestation.TypeFeedData:
		return feedDataArgs[0].Type, nil
	case attestation.TypeEVMTransaction:
		return evmTransactionArgs[0].Type, nil
	case attestation.TypeWeb2Json:
		return web2JsonArgs[0].Type, nil
	}
	return gethAbi.Type{}, fmt.Errorf("no response type for %q", t)
}
