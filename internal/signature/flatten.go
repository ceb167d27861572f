package signature

// flatten expands each frame's inlines[] ahead of the frame itself (in
// order), copying any missing module/module_offset/offset from the
// enclosing frame into each inline. It is a pure function: the input slice
// and its elements are never mutated.
func flatten(frames []Frame) []Frame {
	out := make([]Frame, 0, len(frames))

	for _, f := range frames {
		for _, inline := range f.Inlines {
			out = append(out, inheritFrom(inline, f))
		}

		enclosing := f
		enclosing.Inlines = nil
		out = append(out, enclosing)
	}

	return out
}

// inheritFrom returns a copy of inline with module/module_offset/offset
// copied from enclosing wherever inline's own value is empty.
func inheritFrom(inline, enclosing Frame) Frame {
	if inline.Module == "" {
		inline.Module = enclosing.Module
	}
	if inline.ModuleOffset == "" {
		inline.ModuleOffset = enclosing.ModuleOffset
	}
	if inline.Offset == "" {
		inline.Offset = enclosing.Offset
	}
	inline.Inlines = nil

	return inline
}
