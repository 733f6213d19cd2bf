package verifier

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum"
	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/trufnetwork/fdc-relay/attestation"
	"github.com/trufnetwork/fdc-relay/attestation/decoder"
)

// verifyMethod is the on-chain entry point taking Proof{bytes32[] merkleProof,
// Response data} for one attestation type.
type verifyMethod struct {
	method   gethAbi.Method
	response gethAbi.Arguments
}

var verifyMethods = map[attestation.Type]verifyMethod{}

func init() {
	boolType, err := gethAbi.NewType("bool", "", nil)
	if err != nil {
		panic(fmt.Sprintf("verifier: bool type: %v", err))
	}
	names := map[attestation.Type]string{
		attestation.TypeEVMTransaction: "verifyEVMTransaction",
		attestation.TypeWeb2Json:       "verifyWeb2Json",
		attestation.TypeFeedData:       "verifyFeedData",
	}
	for t, name := range names {
		components, err := decoder.ResponseComponents(t)
		if err != nil {
			panic(fmt.Sprintf("verifier: %v", err))
		}
		proofType, err := gethAbi.NewType("tuple", "", []gethAbi.ArgumentMarshaling{
			{Name: "merkleProof", Type: "bytes32[]"},
			{Name: "data", Type: "tuple", Components: components},
		})
		if err != nil {
			panic(fmt.Sprintf("verifier: %s proof type: %v", t, err))
		}
		responseType, err := decoder.ResponseType(t)
		if err != nil {
			panic(fmt.Sprintf("verifier: %v", err))
		}
		verifyMethods[t] = verifyMethod{
			method: gethAbi.NewMethod(name, name, gethAbi.Function, "view", false, false,
				gethAbi.Arguments{{Name: "_proof", Type: proofType}},
				gethAbi.Arguments{{Type: boolType}}),
			response: gethAbi.Arguments{{Type: responseType}},
		}
	}
}

// ContractVerifier asks the on-chain verification contract.
type ContractVerifier struct {
	caller  Caller
	address common.Address
}

func NewContractVerifier(caller Caller, address common.Address) *ContractVerifier {
	return &ContractVerifier{caller: caller, address: address}
}

func (v *ContractVerifier) Verify(ctx context.Context, t attestation.Type, rec *attestation.ProofRecord) (bool, error) {
	m, ok := verifyMethods[t]
	if !ok {
		return false, fmt.Errorf("no verification entry point for %q", t)
	}
	data, err := ProofCalldata(t, rec)
	if err != nil {
		return false, err
	}
	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &v.address, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", m.method.Name, err)
	}
	values, err := m.method.Outputs.Unpack(out)
	if err != nil {
		return false, fmt.Errorf("unpack %s: %w", m.method.Name, err)
	}
	return values[0].(bool), nil
}

// ProofCalldata builds the verify call for rec: the response is unpacked by
// its declared type and packed again inside Proof{merkleProof, data}.
func ProofCalldata(t attestation.Type, rec *attestation.ProofRecord) ([]byte, error) {
	m, ok := verifyMethods[t]
	if !ok {
		return nil, fmt.Errorf("no verification entry point for %q", t)
	}

	values, err := m.response.Unpack(rec.Response)
	if err != nil {
		return nil, fmt.Errorf("unpack %s response: %w", t, err)
	}
	proofType := m.method.Inputs[0].Type.GetType()
	proof := reflect.New(proofType).Elem()
	path := rec.MerklePath
	if path == nil {
		path = [][32]byte{}
	}
	proof.Field(0).Set(reflect.ValueOf(path))

	data := reflect.ValueOf(values[0])
	if !data.Type().ConvertibleTo(proof.Field(1).Type()) {
		return nil, fmt.Errorf("%s response of type %s does not fit the proof", t, data.Type())
	}
	proof.Field(1).Set(data.Convert(proof.Field(1).Type()))

	args, err := m.method.Inputs.Pack(proof.Interface())
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", m.method.Name, err)
	}
	return append(append([]byte{}, m.method.ID...), args...), nil
}
