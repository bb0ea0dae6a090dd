package script

import (
	"bytes"
	"encoding/binary"

	lua "github.com/yuin/gopher-lua"

	"github.com/rsepassi/rebuild/internal/hashtree"
)

// FunctionHash looks up functionName as a global on the root state and
// hashes its compiled proto, not the source file it came from, so that
// editing a sibling target's function in the same build file never
// changes this one's hash.
func (r *LuaRuntime) FunctionHash(handle Handle, functionName string) (hashtree.Hash, error) {
	fnVal := r.root.GetGlobal(functionName)
	fn, ok := fnVal.(*lua.LFunction)
	if !ok {
		return hashtree.Hash{}, &ErrFunctionNotFound{FunctionName: functionName}
	}
	return hashFunctionProto(fn.Proto), nil
}

// hashFunctionProto hashes a compiled function's instruction stream,
// constants, and nested prototypes (closures it defines), giving a
// content hash scoped to the function's own body.
func hashFunctionProto(p *lua.FunctionProto) hashtree.Hash {
	if p == nil {
		return hashtree.Zero
	}
	var buf bytes.Buffer
	buf.WriteString(p.SourceName)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, int64(p.LineDefined))
	_ = binary.Write(&buf, binary.LittleEndian, int64(p.LastLineDefined))
	buf.WriteByte(p.NumParameters)
	buf.WriteByte(p.NumUpvalues)
	buf.WriteByte(p.IsVarArg)
	for _, instr := range p.Code {
		_ = binary.Write(&buf, binary.LittleEndian, instr)
	}
	for _, c := range p.Constants {
		buf.WriteString(c.String())
		buf.WriteByte(0)
	}
	for _, child := range p.FunctionPrototypes {
		childHash := hashFunctionProto(child)
		buf.Write(childHash[:])
	}
	return hashtree.Bytes(buf.Bytes())
}
