package artifacts

const bridgeArtifactJSON = `{
  "_format": "hh-sol-artifact-1",
  "contractName": "OnestableSourceBridge",
  "sourceName": "contracts/OnestableSourceBridge.sol",
  "abi": [
    {"type": "constructor", "inputs": [], "stateMutability": "nonpayable"},
    {"type": "function", "name": "initialize", "stateMutability": "nonpayable", "outputs": [], "inputs": [
      {"name": "token", "type": "address"},
      {"name": "destChainId", "type": "uint256"},
      {"name": "destTokenAddress", "type": "address"},
      {"name": "maxConfirmationPeriod", "type": "uint256"},
      {"name": "defaultAdmin", "type": "address"},
      {"name": "pauser", "type": "address"},
      {"name": "upgrader", "type": "address"}
    ]},
    {"type": "function", "name": "setMessageAdapter", "stateMutability": "nonpayable", "outputs": [], "inputs": [
      {"name": "adapter", "type": "address"},
      {"name": "enabled", "type": "bool"}
    ]}
  ],
  "bytecode": "0x6080604052",
  "deployedBytecode": "0x60806040",
  "linkReferences": {},
  "deployedLinkReferences": {}
}`

const proxyArtifactJSON = `{
  "_format": "hh-sol-artifact-1",
  "contractName": "OnestableSourceBridgeProxy",
  "sourceName": "contracts/OnestableSourceBridgeProxy.sol",
  "abi": [
    {"type": "constructor", "stateMutability": "payable", "inputs": [
      {"name": "implementation", "type": "address"},
      {"name": "_data", "type": "bytes"}
    ]}
  ],
  "bytecode": {"object": "0x60a0"},
  "deployedBytecode": {"object": "0x60a1"}
}`

const buildInfoJSON = `{
  "_format": "hh-sol-build-info-1",
  "id": "3f1e",
  "solcVersion": "0.8.27",
  "solcLongVersion": "0.8.27+commit.40a35a09",
  "input": {"language": "Solidity", "sources": {}, "settings": {"evmVersion": "paris", "optimizer": {"enabled": true, "runs": 200}}},
  "output": {"contracts": {}}
}`
