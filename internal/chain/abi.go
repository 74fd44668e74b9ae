package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs
var (
	gameABI abi.ABI
	pairABI abi.ABI
)

func init() {
	var err error

	gameABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "joinGame",
			"type": "function",
			"stateMutability": "payable",
			"inputs": [
				{"name": "gameId", "type": "uint256"},
				{"name": "poolAddress", "type": "address"},
				{"name": "signatureExpiration", "type": "uint256"},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": []
		},
		{
			"name": "postPosition",
			"type": "function",
			"inputs": [
				{"name": "gameId", "type": "uint256"},
				{"name": "hashedDirection", "type": "bytes32"},
				{"name": "signature", "type": "bytes"}
			],
			"outputs": []
		},
		{
			"name": "closePosition",
			"type": "function",
			"inputs": [
				{"name": "gameId", "type": "uint256"},
				{"name": "direction", "type": "uint8"},
				{"name": "nonce", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "finishGame",
			"type": "function",
			"inputs": [
				{"name": "gameId", "type": "uint256"},
				{"name": "direction", "type": "uint8"},
				{"name": "nonce", "type": "uint256"}
			],
			"outputs": []
		},
		{
			"name": "getGame",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "gameId", "type": "uint256"}],
			"outputs": [
				{
					"name": "",
					"type": "tuple",
					"components": [
						{"name": "player1", "type": "address"},
						{"name": "player2", "type": "address"},
						{"name": "player1Pool", "type": "address"},
						{"name": "player2Pool", "type": "address"},
						{"name": "startTime", "type": "uint256"},
						{"name": "endTime", "type": "uint256"},
						{"name": "betAmount", "type": "uint256"},
						{"name": "state", "type": "uint8"}
					]
				}
			]
		},
		{
			"name": "playerGameInfo",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "player", "type": "address"}],
			"outputs": [
				{"name": "inGame", "type": "bool"},
				{"name": "gameId", "type": "uint256"},
				{"name": "role", "type": "uint8"}
			]
		},
		{
			"name": "getPoolStableToken",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "poolAddress", "type": "address"}],
			"outputs": [{"name": "", "type": "uint8"}]
		}
	]`))
	if err != nil {
		panic("game abi parse: " + err.Error())
	}

	pairABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getReserves",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "reserve0", "type": "uint112"},
				{"name": "reserve1", "type": "uint112"},
				{"name": "blockTimestampLast", "type": "uint32"}
			]
		},
		{
			"name": "token0",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		},
		{
			"name": "token1",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "address"}]
		}
	]`))
	if err != nil {
		panic("pair abi parse: " + err.Error())
	}
}
