package id

import "github.com/vmihailenco/msgpack/v5"

var (
	_ msgpack.CustomEncoder = ID{}
	_ msgpack.CustomDecoder = (*ID)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder using the canonical
// string form. The Nil ID encodes as an empty string.
func (i ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeString(i.String())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (i *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	if s == "" {
		*i = Nil
		return nil
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
