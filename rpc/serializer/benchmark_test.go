package serializer

import (
	"github.com/ValentinKolb/rcam/rpc/common"
	"testing"
)

// benchmarkResponses returns a set of responses for targeted benchmarking
func benchmarkResponses() map[string]common.ServerResponse {
	return map[string]common.ServerResponse{
		"Empty": {
			Opcode: common.OpStart,
		},
		"FrameHeader": {
			Opcode:     common.OpGetFrame,
			IntResults: []int32{1024, 1024, 2, 1},
			RawLength:  1024 * 1024 * 2,
		},
		"Modes": {
			Opcode:     common.OpGetAvailableModes,
			StrResults: []string{"near", "medium", "far", "qmp", "mp"},
		},
		"Registers": {
			Opcode:     common.OpReadRegisters,
			IntResults: make([]int32, 256),
		},
		"Calibration": {
			Opcode:       common.OpGetStatus,
			FloatResults: make([]float32, 64),
			Bytes:        make([]byte, 1024*4),
		},
		"ErrorMessage": {
			Opcode:  common.OpSetMode,
			Status:  common.StatusGenericError,
			Message: "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		},
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various response types
func BenchmarkSerialize(b *testing.B) {
	messages := benchmarkResponses()

	for name, factory := range testSerializers {
		for msgName, msg := range messages {
			b.Run(name+"_"+msgName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.SerializeResponse(msg)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various response types
func BenchmarkDeserialize(b *testing.B) {
	messages := benchmarkResponses()

	for name, factory := range testSerializers {
		serializer := factory()

		for msgName, msg := range messages {
			data, err := serializer.SerializeResponse(msg)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", msgName, name, err)
			}

			b.Run(name+"_"+msgName, func(b *testing.B) {
				b.ReportMetric(float64(len(data)), "bytes")
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var resp common.ServerResponse
					if err := serializer.DeserializeResponse(data, &resp); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}
