package signal

import (
	"errors"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDataBytesBitPosOfSignalBit(t *testing.T) {
	Convey("Motorola bit positions walk down a byte and into the next one", t, func() {
		So(DataBytesBitPosOfSignalBit(3, 0), ShouldEqual, uint16(3))
		So(DataBytesBitPosOfSignalBit(3, 3), ShouldEqual, uint16(0))
		So(DataBytesBitPosOfSignalBit(3, 4), ShouldEqual, uint16(15))
		So(DataBytesBitPosOfSignalBit(0, 1), ShouldEqual, uint16(15))
		So(DataBytesBitPosOfSignalBit(7, 15), ShouldEqual, uint16(8))
		So(DataBytesBitPosOfSignalBit(12, 5), ShouldEqual, uint16(23))
	})

	Convey("Intel descriptors use the trivial mapping", t, func() {
		d := Descriptor{StartBit: 13, BitLength: 9, ByteOrder: Intel}
		So(d.DataBytesBitPos(0), ShouldEqual, uint16(13))
		So(d.DataBytesBitPos(8), ShouldEqual, uint16(21))
	})
}

func TestFitsInFrame(t *testing.T) {
	Convey("Intel byte signal at bit 0", t, func() {
		d := Descriptor{StartBit: 0, BitLength: 8, ByteOrder: Intel}
		So(FitsInFrame(1, d), ShouldBeTrue)
		So(FitsInFrame(0, d), ShouldBeFalse)
	})

	Convey("Motorola single bit at bit 63", t, func() {
		d := Descriptor{StartBit: 63, BitLength: 1, ByteOrder: Motorola}
		So(FitsInFrame(8, d), ShouldBeTrue)
		So(FitsInFrame(7, d), ShouldBeFalse)
	})

	Convey("Motorola word at the start of the frame", t, func() {
		d := Descriptor{StartBit: 7, BitLength: 16, ByteOrder: Motorola}
		So(FitsInFrame(2, d), ShouldBeTrue)
		So(FitsInFrame(1, d), ShouldBeFalse)
	})

	Convey("Signals running off the payload never fit", t, func() {
		So(FitsInFrame(8, Descriptor{StartBit: 60, BitLength: 8, ByteOrder: Intel}), ShouldBeFalse)
		So(FitsInFrame(8, Descriptor{StartBit: 56, BitLength: 2, ByteOrder: Motorola}), ShouldBeFalse)
		So(FitsInFrame(8, Descriptor{StartBit: 64, BitLength: 1, ByteOrder: Intel}), ShouldBeFalse)
		So(FitsInFrame(8, Descriptor{StartBit: 0, BitLength: 0, ByteOrder: Intel}), ShouldBeFalse)
		So(FitsInFrame(8, Descriptor{StartBit: 0, BitLength: 65, ByteOrder: Intel}), ShouldBeFalse)
	})
}

func TestExtract(t *testing.T) {
	Convey("Motorola word aligned at its last bit flips byte order", t, func() {
		p := Payload{0x12, 0x34}
		got, err := Extract(p, Descriptor{StartBit: 7, BitLength: 16, ByteOrder: Motorola})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0x34, 0x12})
	})

	Convey("Intel aligned signals are a straight copy", t, func() {
		p := Payload{0x00, 0x11, 0x22, 0x33}
		got, err := Extract(p, Descriptor{StartBit: 8, BitLength: 24, ByteOrder: Intel})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0x11, 0x22, 0x33})
	})

	Convey("Intel unaligned signals cross byte boundaries", t, func() {
		p := Payload{0xAB, 0xCD}
		got, err := Extract(p, Descriptor{StartBit: 4, BitLength: 8, ByteOrder: Intel})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0xDA})
	})

	Convey("Motorola unaligned signal inside one byte", t, func() {
		p := Payload{0x28}
		got, err := Extract(p, Descriptor{StartBit: 5, BitLength: 3, ByteOrder: Motorola})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0x05})
	})

	Convey("Motorola unaligned signal over two bytes", t, func() {
		p := Payload{0xFA, 0xBC}
		got, err := Extract(p, Descriptor{StartBit: 3, BitLength: 12, ByteOrder: Motorola})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0xBC, 0x0A})
	})

	Convey("Bits above the MSB are masked off", t, func() {
		p := Payload{0xFF, 0xFF}
		got, err := Extract(p, Descriptor{StartBit: 0, BitLength: 4, ByteOrder: Intel})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0x0F})

		got, err = Extract(p, Descriptor{StartBit: 2, BitLength: 10, ByteOrder: Intel})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{0xFF, 0x03})
	})

	Convey("Full 64 bit signals", t, func() {
		p := Payload{1, 2, 3, 4, 5, 6, 7, 8}
		got, err := Extract(p, Descriptor{StartBit: 0, BitLength: 64, ByteOrder: Intel})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{1, 2, 3, 4, 5, 6, 7, 8})

		got, err = Extract(p, Descriptor{StartBit: 7, BitLength: 64, ByteOrder: Motorola})
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []byte{8, 7, 6, 5, 4, 3, 2, 1})
	})

	Convey("Out of range descriptors are rejected", t, func() {
		_, err := Extract(Payload{}, Descriptor{StartBit: 60, BitLength: 8, ByteOrder: Intel})
		So(errors.Is(err, ErrSignalRange), ShouldBeTrue)

		_, err = Extract(Payload{}, Descriptor{StartBit: 0, BitLength: 0, ByteOrder: Motorola})
		So(errors.Is(err, ErrSignalRange), ShouldBeTrue)
	})
}

func TestInsert(t *testing.T) {
	Convey("Motorola insert mirrors extract", t, func() {
		var p Payload
		err := Insert(&p, Descriptor{StartBit: 7, BitLength: 16, ByteOrder: Motorola}, []byte{0x34, 0x12})
		So(err, ShouldBeNil)
		So(p, ShouldResemble, Payload{0x12, 0x34})
	})

	Convey("Insert keeps neighbouring bits", t, func() {
		p := Payload{0x0F}
		err := Insert(&p, Descriptor{StartBit: 4, BitLength: 4, ByteOrder: Intel}, []byte{0x0A})
		So(err, ShouldBeNil)
		So(p[0], ShouldEqual, byte(0xAF))
	})

	Convey("High value bits beyond the signal are dropped", t, func() {
		var p Payload
		err := Insert(&p, Descriptor{StartBit: 0, BitLength: 4, ByteOrder: Intel}, []byte{0xFF})
		So(err, ShouldBeNil)
		So(p[0], ShouldEqual, byte(0x0F))
		So(p[1], ShouldEqual, byte(0x00))
	})

	Convey("Short values are rejected", t, func() {
		var p Payload
		err := Insert(&p, Descriptor{StartBit: 0, BitLength: 12, ByteOrder: Intel}, []byte{0xFF})
		So(errors.Is(err, ErrValueLength), ShouldBeTrue)
		So(p, ShouldResemble, Payload{})
	})

	Convey("Invalid descriptors leave the payload untouched", t, func() {
		p := Payload{0x55}
		err := Insert(&p, Descriptor{StartBit: 63, BitLength: 2, ByteOrder: Intel}, []byte{0x03})
		So(errors.Is(err, ErrSignalRange), ShouldBeTrue)
		So(p, ShouldResemble, Payload{0x55})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("Extract(Insert(zero, v)) == v for every fitting descriptor", t, func() {
		rng := rand.New(rand.NewSource(42))
		checked := 0
		for _, order := range []ByteOrder{Intel, Motorola} {
			for length := uint16(1); length <= 32; length++ {
				for start := uint16(0); start < 64; start++ {
					d := Descriptor{StartBit: start, BitLength: length, ByteOrder: order}
					if !FitsInFrame(PayloadSize, d) {
						continue
					}
					want := Bytes(rng.Uint64()&mask(length), length)

					var p Payload
					So(Insert(&p, d, want), ShouldBeNil)
					got, err := Extract(p, d)
					So(err, ShouldBeNil)
					So(got, ShouldResemble, want)
					checked++
				}
			}
		}
		So(checked, ShouldBeGreaterThan, 0)
	})
}

func TestNonDestructiveInsert(t *testing.T) {
	cases := []struct {
		name string
		a, b Descriptor
	}{
		{
			name: "intel",
			a:    Descriptor{StartBit: 4, BitLength: 8, ByteOrder: Intel},
			b:    Descriptor{StartBit: 12, BitLength: 10, ByteOrder: Intel},
		},
		{
			name: "motorola",
			a:    Descriptor{StartBit: 3, BitLength: 6, ByteOrder: Motorola},
			b:    Descriptor{StartBit: 13, BitLength: 6, ByteOrder: Motorola},
		},
	}

	for _, tc := range cases {
		Convey("Disjoint signals sharing a byte: "+tc.name, t, func() {
			aValue := Bytes(0xA5&mask(tc.a.BitLength), tc.a.BitLength)
			bValue := Bytes(0x2C3&mask(tc.b.BitLength), tc.b.BitLength)

			var p Payload
			So(Insert(&p, tc.b, bValue), ShouldBeNil)
			So(Insert(&p, tc.a, aValue), ShouldBeNil)

			got, err := Extract(p, tc.b)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, bValue)

			So(Insert(&p, tc.b, bValue), ShouldBeNil)
			got, err = Extract(p, tc.a)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, aValue)
		})
	}
}

func TestValueHelpers(t *testing.T) {
	Convey("Little-endian value helpers", t, func() {
		So(Uint64([]byte{0x34, 0x12}), ShouldEqual, uint64(0x1234))
		So(Bytes(0x1234, 12), ShouldResemble, []byte{0x34, 0x12})
		So(Bytes(0x1, 1), ShouldResemble, []byte{0x01})
		So(SignExtend(0xF, 4), ShouldEqual, int64(-1))
		So(SignExtend(0x7, 4), ShouldEqual, int64(7))
		So(SignExtend(0x8000, 16), ShouldEqual, int64(-32768))
	})
}
