package hub

import (
	"fmt"
	"strings"

	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
)

const fdcHubABI = `[
	{"type":"function","name":"requestAttestation","stateMutability":"payable",
		"inputs":[{"name":"_data","type":"bytes"}],"outputs":[]},
	{"type":"event","name":"AttestationRequest","anonymous":false,
		"inputs":[{"name":"data","type":"bytes","indexed":false},{"name":"fee","type":"uint256","indexed":false}]}
]`

const feeConfigABI = `[
	{"type":"function","name":"getRequestFee","stateMutability":"view",
		"inputs":[{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const systemsManagerABI = `[
	{"type":"function","name":"firstVotingRoundStartTs","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"votingEpochDurationSeconds","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"uint64"}]}
]`

var (
	hubABI           gethAbi.ABI
	feeABI           gethAbi.ABI
	systemsABI       gethAbi.ABI
	attestationEvent gethAbi.Event
)

func mustParse(name, def string) gethAbi.ABI {
	parsed, err := gethAbi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("hub: failed to parse %s ABI: %v", name, err))
	}
	return parsed
}

func init() {
	hubABI = mustParse("FdcHub", fdcHubABI)
	feeABI = mustParse("FdcRequestFeeConfigurations", feeConfigABI)
	systemsABI = mustParse("FlareSystemsManager", systemsManagerABI)
	attestationEvent = hubABI.Events["AttestationRequest"]
}
