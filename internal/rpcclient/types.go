package rpcclient

// Block is the subset of eth_getBlockByNumber's result the scanner
// needs. All numeric/hash fields arrive as JSON hex strings, matching
// the wire format of every EVM-compatible node.
type Block struct {
	Number       string `json:"number"`
	Hash         string `json:"hash"`
	ParentHash   string `json:"parentHash"`
	Timestamp    string `json:"timestamp"`
	Transactions []Tx   `json:"transactions"`
}

// Tx is one transaction embedded in a full-transaction block result.
type Tx struct {
	Hash     string  `json:"hash"`
	From     string  `json:"from"`
	To       *string `json:"to"`
	Value    string  `json:"value"`
	GasPrice string  `json:"gasPrice"`
	Input    string  `json:"input"`
}

// Receipt is the subset of eth_getTransactionReceipt's result the
// scanner needs.
type Receipt struct {
	Status       string  `json:"status"`
	GasUsed      string  `json:"gasUsed"`
	RevertReason *string `json:"revertReason"`
}
