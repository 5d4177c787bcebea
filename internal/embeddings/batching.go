package embeddings

// batchRange is a half-open range of input indices embedded together.
type batchRange struct {
	start, end int
}

// planBatches splits inputs into consecutive batches of at most
// maxBatchSize sequences and maxTokens tokens. A sequence longer than
// maxTokens gets a batch of its own.
func planBatches(lengths []int, maxBatchSize, maxTokens int) []batchRange {
	var batches []batchRange
	count := len(lengths)
	i := 0
	for i < count {
		currentBatchTokens := 0
		currentBatchSize := 0

		for j := i; j < count; j++ {
			seqLen := lengths[j]
			if currentBatchSize >= maxBatchSize {
				break
			}
			if currentBatchTokens+seqLen > maxTokens && currentBatchSize > 0 {
				break
			}
			currentBatchTokens += seqLen
			currentBatchSize++
		}

		if currentBatchSize == 0 {
			currentBatchSize = 1
		}

		batches = append(batches, batchRange{start: i, end: i + currentBatchSize})
		i += currentBatchSize
	}
	return batches
}
