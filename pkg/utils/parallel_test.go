package utils

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 为了测试上下文取消而定义的任务类型
type TestTaskWithContext struct {
	ID  int
	Ctx context.Context
}

// 定义测试专用的结果类型
type TestTaskProcessResult struct {
	ID     int
	Status string
	Value  int
}

func TestParallelMap(t *testing.T) {
	// 测试空输入
	t.Run("empty input", func(t *testing.T) {
		var emptyInput []int
		result := ParallelMap(emptyInput, 4, func(i int) int {
			return i * 2
		})
		assert.Empty(t, result)
	})

	// 测试单元素输入 - 应该直接处理，不使用并发
	t.Run("single input", func(t *testing.T) {
		result := ParallelMap([]int{42}, 4, func(i int) int {
			return i * 2
		})
		assert.Equal(t, []int{84}, result)
	})

	// 测试多元素输入 - 确保顺序正确
	t.Run("multiple inputs with order", func(t *testing.T) {
		result := ParallelMap([]int{1, 2, 3, 4, 5}, 3, func(i int) int {
			// 添加随机延迟，测试顺序保持
			time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
			return i * 2
		})
		assert.Equal(t, []int{2, 4, 6, 8, 10}, result)
	})

	// 测试并发上限
	t.Run("concurrency bound", func(t *testing.T) {
		input := make([]int, 40)
		for i := range input {
			input[i] = i
		}

		var maxConcurrent, currentConcurrent int32
		ParallelMap(input, 4, func(i int) int {
			current := atomic.AddInt32(&currentConcurrent, 1)
			for {
				max := atomic.LoadInt32(&maxConcurrent)
				if current <= max || atomic.CompareAndSwapInt32(&maxConcurrent, max, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&currentConcurrent, -1)
			return i
		})

		assert.LessOrEqual(t, maxConcurrent, int32(4))
		assert.Greater(t, maxConcurrent, int32(1))
	})

	// 测试带有上下文的任务
	t.Run("tasks with context cancellation", func(t *testing.T) {
		parentCtx, parentCancel := context.WithCancel(context.Background())
		defer parentCancel()

		const taskCount = 20
		tasks := make([]TestTaskWithContext, taskCount)
		for i := range tasks {
			tasks[i] = TestTaskWithContext{ID: i, Ctx: parentCtx}
		}

		var started int32
		results := ParallelMap(tasks, 4, func(task TestTaskWithContext) TestTaskProcessResult {
			// 前几个任务开始后取消
			if atomic.AddInt32(&started, 1) == 4 {
				parentCancel()
			}
			if err := task.Ctx.Err(); err != nil {
				return TestTaskProcessResult{ID: task.ID, Status: "canceled", Value: -1}
			}
			return TestTaskProcessResult{ID: task.ID, Status: "completed", Value: task.ID * 10}
		})

		require.Len(t, results, taskCount)
		canceled := 0
		for i, result := range results {
			assert.Equal(t, i, result.ID)
			assert.True(t, contains([]string{"completed", "canceled"}, result.Status))
			if result.Status == "canceled" {
				canceled++
			} else {
				assert.Equal(t, i*10, result.Value)
			}
		}
		assert.Greater(t, canceled, 0)
	})
}

// 辅助函数：检查切片是否包含某个字符串
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
