package frame

func (f *Frame) IsControlFrame() bool {
	return f.Opcode.IsControl()
}

func (f *Frame) IsDataFrame() bool {
	return f.Opcode.IsData()
}

func (f *Frame) IsContinuationFrame() bool {
	return f.Opcode == OpcodeContinuationFrame
}

func (f *Frame) IsUnfragmentedDataFrame() bool {
	return f.IsDataFrame() && f.FIN && !f.IsContinuationFrame()
}

func (f *Frame) IsFirstFragmentDataFrame() bool {
	return f.IsDataFrame() && !f.FIN && !f.IsContinuationFrame()
}

func (f *Frame) IsMiddleFragmentDataFrame() bool {
	return f.IsDataFrame() && !f.FIN && f.IsContinuationFrame()
}

func (f *Frame) IsFinalFragmentDataFrame() bool {
	return f.IsDataFrame() && f.FIN && f.IsContinuationFrame()
}

func (f *Frame) IsFragmentedDataFrame() bool {
	return f.IsFirstFragmentDataFrame() ||
		f.IsMiddleFragmentDataFrame() ||
		f.IsFinalFragmentDataFrame()
}

// FragmentOpcode returns the opcode and FIN bit of chunk i out of n chunks of
// a message of type op.
func FragmentOpcode(op Opcode, i, n int) (Opcode, bool) {
	fin := i == n-1
	if i == 0 {
		return op, fin
	}
	return OpcodeContinuationFrame, fin
}
