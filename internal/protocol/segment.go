package protocol

// ChunkCapacity returns the payload bytes that fit in one PDU of size mtu,
// or 0 if the mtu cannot carry any payload.
func ChunkCapacity(mtu int) int {
	c := mtu - Overhead
	if c <= 0 {
		return 0
	}
	return min(c, MaxPayloadSize)
}

// Segment splits data into ordered, fully built PDUs that each fit in mtu.
// The result is all-or-nothing: on any failure no PDUs are returned.
func Segment(data []byte, id uint32, typ Type, mtu int) ([][]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	capacity := ChunkCapacity(mtu)
	if capacity == 0 {
		return nil, ErrMTUTooSmall
	}

	total := (len(data) + capacity - 1) / capacity
	pdus := make([][]byte, 0, total)
	for k := 0; k < total; k++ {
		chunk := data[k*capacity : min(len(data), (k+1)*capacity)]
		pdu, err := EncodePDU(Header{
			Type:       typ,
			MessageID:  id,
			Seq:        uint32(k),
			Total:      uint32(total),
			PayloadLen: uint16(len(chunk)),
		}, chunk)
		if err != nil {
			return nil, err
		}
		pdus = append(pdus, pdu)
	}
	return pdus, nil
}
