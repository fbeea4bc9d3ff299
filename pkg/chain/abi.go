package chain

// TournamentABI is the ABI subset of the tournament contract the backend uses.
const TournamentABI = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "tournamentId", "type": "uint256"}
		],
		"name": "getTournament",
		"outputs": [
			{
				"components": [
					{"internalType": "uint256", "name": "id", "type": "uint256"},
					{"internalType": "uint8", "name": "tournamentType", "type": "uint8"},
					{"internalType": "uint8", "name": "status", "type": "uint8"},
					{"internalType": "address", "name": "buyInToken", "type": "address"},
					{"internalType": "uint256", "name": "buyInAmount", "type": "uint256"},
					{"internalType": "uint256", "name": "prizePool", "type": "uint256"},
					{"internalType": "address", "name": "creator", "type": "address"},
					{"internalType": "uint256", "name": "createdAt", "type": "uint256"},
					{"internalType": "address", "name": "winner", "type": "address"},
					{"internalType": "bytes32", "name": "merkleRoot", "type": "bytes32"}
				],
				"internalType": "struct Impossible.Tournament",
				"name": "",
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "tournamentId", "type": "uint256"},
			{"internalType": "address", "name": "player", "type": "address"}
		],
		"name": "hasJoined",
		"outputs": [
			{"internalType": "bool", "name": "", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "buyInToken", "type": "address"},
			{"internalType": "uint256", "name": "buyInAmount", "type": "uint256"}
		],
		"name": "createGlobalTournament",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "buyInToken", "type": "address"},
			{"internalType": "uint256", "name": "buyInAmount", "type": "uint256"}
		],
		"name": "createGroupTournament",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "tournamentId", "type": "uint256"},
			{"internalType": "address", "name": "player", "type": "address"}
		],
		"name": "joinTournament",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "tournamentId", "type": "uint256"},
			{"internalType": "bytes32", "name": "merkleRoot", "type": "bytes32"}
		],
		"name": "setMerkleRoot",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "tournamentId", "type": "uint256"},
			{"indexed": false, "internalType": "uint8", "name": "tournamentType", "type": "uint8"},
			{"indexed": true, "internalType": "address", "name": "creator", "type": "address"}
		],
		"name": "TournamentCreated",
		"type": "event"
	}
]`
