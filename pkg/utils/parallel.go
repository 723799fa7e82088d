package utils

import "sync"

// ParallelMap 以最多 concurrency 个协程并发执行 fn，结果顺序与输入一致。
// 输入为空返回空切片；只有一个元素或 concurrency <= 1 时在当前协程串行执行。
func ParallelMap[T any, R any](input []T, concurrency int, fn func(T) R) []R {
	result := make([]R, len(input))
	if len(input) == 0 {
		return result
	}
	if len(input) == 1 || concurrency <= 1 {
		for i, v := range input {
			result[i] = fn(v)
		}
		return result
	}
	if concurrency > len(input) {
		concurrency = len(input)
	}

	jobs := make(chan int, len(input))
	for i := range input {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				result[i] = fn(input[i])
			}
		}()
	}
	wg.Wait()
	return result
}
