package ledger

// escrowABI covers the calls the orchestrator makes against the deployed
// escrow contract.
const escrowABI = `[
  {"type":"function","name":"createJob","stateMutability":"payable",
   "inputs":[{"name":"worker","type":"address"},{"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"jobId","type":"uint256"}]},
  {"type":"function","name":"submitWork","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"},{"name":"deliverable","type":"string"}],"outputs":[]},
  {"type":"function","name":"approveWork","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelJob","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"disputeJob","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"resolveDispute","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"jobs","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"employer","type":"address"},
     {"name":"worker","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"deliverable","type":"string"},
     {"name":"disputeTime","type":"uint256"}]},
  {"type":"function","name":"jobCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`
