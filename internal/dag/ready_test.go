package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/specialistvlad/etlgrid/internal/task"
)

func TestReadySet(t *testing.T) {
	g := compile(t, build(t, []string{"a", "b", "c", "d"},
		[2]string{"a", "c"}, [2]string{"b", "c"}, [2]string{"c", "d"}))

	assert.Equal(t, []string{"a", "b"}, ReadySet(g, States{}))

	states := States{"a": task.Success, "b": task.Running}
	assert.Empty(t, ReadySet(g, states), "c waits for every upstream")

	states["b"] = task.Success
	assert.Equal(t, []string{"c"}, ReadySet(g, states))

	states["c"] = task.Failed
	assert.Empty(t, ReadySet(g, states))
}

func TestCascadeSet(t *testing.T) {
	g := compile(t, build(t, []string{"a", "b", "c", "d", "e"},
		[2]string{"a", "c"}, [2]string{"b", "c"}, [2]string{"c", "d"}, [2]string{"b", "e"}))

	states := States{"a": task.Failed, "b": task.Success}
	assert.Equal(t, []string{"c", "d"}, CascadeSet(g, states), "whole chain cascades in one pass")
	assert.Equal(t, []string{"e"}, ReadySet(g, states), "independent branch is still ready")

	states = States{"a": task.Success, "b": task.Skipped}
	assert.Empty(t, CascadeSet(g, states), "skipped upstream does not cascade")
}
