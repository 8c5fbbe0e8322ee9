package gateway

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ERC20 ABI covering the calls the treasury makes against USDC.
const ERC20ABI = `[
	{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// CCTP v2 TokenMessenger ABI (depositForBurn).
const TokenMessengerABI = `[
	{
		"inputs": [
			{"name": "amount", "type": "uint256"},
			{"name": "destinationDomain", "type": "uint32"},
			{"name": "mintRecipient", "type": "bytes32"},
			{"name": "burnToken", "type": "address"},
			{"name": "destinationCaller", "type": "bytes32"},
			{"name": "maxFee", "type": "uint256"},
			{"name": "minFinalityThreshold", "type": "uint32"}
		],
		"name": "depositForBurn",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// CCTP v2 MessageTransmitter ABI (receiveMessage + usedNonces + MessageSent).
const MessageTransmitterABI = `[
	{
		"inputs": [
			{"name": "message", "type": "bytes"},
			{"name": "attestation", "type": "bytes"}
		],
		"name": "receiveMessage",
		"outputs": [{"name": "success", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "nonce", "type": "bytes32"}],
		"name": "usedNonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [{"indexed": false, "name": "message", "type": "bytes"}],
		"name": "MessageSent",
		"type": "event"
	}
]`

// Event signatures.
var (
	TransferEventSig    = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	MessageSentEventSig = crypto.Keccak256Hash([]byte("MessageSent(bytes)"))
)

var (
	erc20ABI       abi.ABI
	messengerABI   abi.ABI
	transmitterABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(ERC20ABI)); err != nil {
		panic("gateway: bad ERC20 ABI: " + err.Error())
	}
	if messengerABI, err = abi.JSON(strings.NewReader(TokenMessengerABI)); err != nil {
		panic("gateway: bad TokenMessenger ABI: " + err.Error())
	}
	if transmitterABI, err = abi.JSON(strings.NewReader(MessageTransmitterABI)); err != nil {
		panic("gateway: bad MessageTransmitter ABI: " + err.Error())
	}
}

// ApproveCallData encodes approve(spender, amount).
func ApproveCallData(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// TransferCallData encodes transfer(to, amount).
func TransferCallData(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// DepositForBurnCallData encodes the CCTP v2 burn call. The recipient address
// is left-padded into bytes32; destinationCaller is zero so any caller may
// complete the mint.
func DepositForBurnCallData(amount *big.Int, destDomain uint32, recipient common.Address, burnToken common.Address, maxFee *big.Int, minFinality uint32) ([]byte, error) {
	var mintRecipient [32]byte
	copy(mintRecipient[12:], recipient.Bytes())
	var destinationCaller [32]byte
	return messengerABI.Pack("depositForBurn", amount, destDomain, mintRecipient, burnToken, destinationCaller, maxFee, minFinality)
}

// ReceiveMessageCallData encodes receiveMessage(message, attestation).
func ReceiveMessageCallData(message, attestation []byte) ([]byte, error) {
	return transmitterABI.Pack("receiveMessage", message, attestation)
}

// ExtractSentMessage pulls the opaque CCTP message bytes out of the burn
// receipt's MessageSent log emitted by the given transmitter.
func ExtractSentMessage(logs []Log, transmitter common.Address) ([]byte, error) {
	for _, l := range logs {
		if l.Address != transmitter || len(l.Topics) == 0 || l.Topics[0] != MessageSentEventSig {
			continue
		}
		values, err := transmitterABI.Events["MessageSent"].Inputs.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack MessageSent: %w", err)
		}
		message, ok := values[0].([]byte)
		if !ok || len(message) == 0 {
			return nil, fmt.Errorf("MessageSent carried no message bytes")
		}
		return message, nil
	}
	return nil, fmt.Errorf("no MessageSent event from transmitter %s", transmitter.Hex())
}

// MessageNonce derives the nonce identifier used by the destination
// transmitter's usedNonces mapping. In the v2 message header the nonce
// occupies bytes 12..44.
func MessageNonce(message []byte) ([32]byte, error) {
	var nonce [32]byte
	if len(message) < 44 {
		return nonce, fmt.Errorf("message too short for nonce: %d bytes", len(message))
	}
	copy(nonce[:], message[12:44])
	return nonce, nil
}
