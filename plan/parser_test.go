package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcomputer-ai/agentos/plan"
)

func TestParseExpr_Arithmetic(t *testing.T) {
	e, err := plan.ParseExpr("1 + 2 * 3")
	require.NoError(t, err)
	v, err := plan.Eval(e, plan.NewEnv())
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestParseExpr_Comparison(t *testing.T) {
	e, err := plan.ParseExpr("(1 + 2) >= 3")
	require.NoError(t, err)
	v, err := plan.Eval(e, plan.NewEnv())
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestParseExpr_VarRef(t *testing.T) {
	e, err := plan.ParseExpr("@var:count + 1")
	require.NoError(t, err)
	env := plan.NewEnv()
	env.Set("count", 9.0)
	v, err := plan.Eval(e, env)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestParseExpr_VarRef_Undefined(t *testing.T) {
	e, err := plan.ParseExpr("@var:missing")
	require.NoError(t, err)
	_, err = plan.Eval(e, plan.NewEnv())
	require.Error(t, err)
}

func TestParseExpr_FieldAndIndex(t *testing.T) {
	e, err := plan.ParseExpr("@event.items[1]")
	require.NoError(t, err)
	env := plan.NewEnv()
	env.Event = map[string]interface{}{
		"items": []interface{}{"a", "b", "c"},
	}
	v, err := plan.Eval(e, env)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestParseExpr_Functions(t *testing.T) {
	cases := []struct {
		src  string
		want interface{}
	}{
		{`len(@var:xs)`, 3.0},
		{`min(4, 2, 9)`, 2.0},
		{`max(4, 2, 9)`, 9.0},
		{`match(@var:a, @var:a)`, true},
	}
	for _, c := range cases {
		e, err := plan.ParseExpr(c.src)
		require.NoError(t, err, c.src)
		env := plan.NewEnv()
		env.Set("xs", []interface{}{1.0, 2.0, 3.0})
		env.Set("a", "same")
		v, err := plan.Eval(e, env)
		require.NoError(t, err, c.src)
		assert.Equal(t, c.want, v, c.src)
	}
}

func TestParseExpr_DivisionByZero(t *testing.T) {
	e, err := plan.ParseExpr("1 / 0")
	require.NoError(t, err)
	_, err = plan.Eval(e, plan.NewEnv())
	require.Error(t, err)
	var evalErr *plan.EvalError
	require.ErrorAs(t, err, &evalErr)
}

func TestParseExpr_BooleanShortCircuit(t *testing.T) {
	e, err := plan.ParseExpr("false && (1 / 0 > 0)")
	require.NoError(t, err)
	v, err := plan.Eval(e, plan.NewEnv())
	require.NoError(t, err, "should short-circuit and never evaluate the right side")
	assert.Equal(t, false, v)
}

func TestParseExpr_StringLiteralAndNull(t *testing.T) {
	e, err := plan.ParseExpr(`"hello"`)
	require.NoError(t, err)
	v, err := plan.Eval(e, plan.NewEnv())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	e, err = plan.ParseExpr("null")
	require.NoError(t, err)
	v, err = plan.Eval(e, plan.NewEnv())
	require.NoError(t, err)
	assert.Nil(t, v)
}
