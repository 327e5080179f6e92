package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"reflect"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/uuid"

	"github.com/joluben/sigsim/internal/domain"
)

// ScriptGenerator evaluates a user-supplied CEL expression into a
// payload. The expression runs in a restricted environment: the only
// resolvable names are `device_metadata` and the value helpers below,
// so scripts cannot reach the host, the filesystem, or the network.
// Any other identifier, and any syntax error, fails compilation.
//
// Helpers: random_int(lo, hi), random_float(lo, hi), random_choice(list),
// random_string(len), random_bool(), uuid(), now().
type ScriptGenerator struct {
	prg cel.Program
}

// NewScript compiles the expression once. Compilation failure, including
// references outside the allowed environment, rejects the payload config.
func NewScript(source string) (*ScriptGenerator, error) {
	env, err := cel.NewEnv(scriptEnvOptions()...)
	if err != nil {
		return nil, fmt.Errorf("build script environment: %w", err)
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile script: %v", domain.ErrConfigInvalid, issues.Err())
	}

	if kind := ast.OutputType().Kind(); kind != types.MapKind && kind != types.DynKind {
		return nil, fmt.Errorf("%w: script must produce an object, got %s", domain.ErrConfigInvalid, ast.OutputType())
	}

	prg, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("%w: plan script: %v", domain.ErrConfigInvalid, err)
	}

	return &ScriptGenerator{prg: prg}, nil
}

// Generate evaluates the expression with the device metadata bound to
// `device_metadata`. A runtime failure or a non-object result reports a
// generation failure; the caller substitutes the fallback payload.
func (g *ScriptGenerator) Generate(ctx context.Context, deviceMetadata map[string]any) (map[string]any, error) {
	if deviceMetadata == nil {
		deviceMetadata = map[string]any{}
	}

	out, _, err := g.prg.ContextEval(ctx, map[string]any{"device_metadata": deviceMetadata})
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate script: %v", domain.ErrPayloadGeneration, err)
	}

	native, err := out.ConvertToNative(reflect.TypeOf(map[string]any{}))
	if err != nil {
		return nil, fmt.Errorf("%w: script produced a non-object result: %v", domain.ErrPayloadGeneration, err)
	}

	return native.(map[string]any), nil
}

func scriptEnvOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Variable("device_metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("random_int",
			cel.Overload("random_int_int_int", []*cel.Type{cel.IntType, cel.IntType}, cel.IntType,
				cel.BinaryBinding(func(lo, hi ref.Val) ref.Val {
					l, lok := lo.(types.Int)
					h, hok := hi.(types.Int)
					if !lok || !hok || h < l {
						return types.NewErr("random_int: invalid bounds")
					}
					return l + types.Int(rand.Int64N(int64(h-l)+1)) // #nosec G404
				}),
			),
		),
		cel.Function("random_float",
			cel.Overload("random_float_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
				cel.BinaryBinding(func(lo, hi ref.Val) ref.Val {
					l, lok := lo.(types.Double)
					h, hok := hi.(types.Double)
					if !lok || !hok || h < l {
						return types.NewErr("random_float: invalid bounds")
					}
					return l + types.Double(rand.Float64())*(h-l) // #nosec G404
				}),
			),
		),
		cel.Function("random_choice",
			cel.Overload("random_choice_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(func(list ref.Val) ref.Val {
					lister, ok := list.(traits.Lister)
					if !ok {
						return types.NewErr("random_choice: not a list")
					}
					size, ok := lister.Size().(types.Int)
					if !ok || size == 0 {
						return types.NewErr("random_choice: empty list")
					}
					return lister.Get(types.Int(rand.Int64N(int64(size)))) // #nosec G404
				}),
			),
		),
		cel.Function("random_string",
			cel.Overload("random_string_int", []*cel.Type{cel.IntType}, cel.StringType,
				cel.UnaryBinding(func(n ref.Val) ref.Val {
					length, ok := n.(types.Int)
					if !ok || length <= 0 {
						return types.NewErr("random_string: invalid length")
					}
					return types.String(randomString(int(length)))
				}),
			),
		),
		cel.Function("random_bool",
			cel.Overload("random_bool", []*cel.Type{}, cel.BoolType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.Bool(rand.IntN(2) == 0) // #nosec G404
				}),
			),
		),
		cel.Function("uuid",
			cel.Overload("uuid", []*cel.Type{}, cel.StringType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.String(uuid.NewString())
				}),
			),
		),
		cel.Function("now",
			cel.Overload("now", []*cel.Type{}, cel.StringType,
				cel.FunctionBinding(func(_ ...ref.Val) ref.Val {
					return types.String(time.Now().UTC().Format(time.RFC3339))
				}),
			),
		),
	}
}
