// Command simclient is a small Modbus/TCP test client for exercising a
// running simulated device from the command line: read holding
// registers, read coils, or write a single register/coil. Grounded on
// the teacher's internal/collector/client.go (goburrow/modbus TCP
// client handler setup, timeout/slave-id wiring).
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	mb "github.com/goburrow/modbus"
)

func main() {
	var (
		address  string
		slaveID  uint
		op       string
		addr     uint
		quantity uint
		writeVal uint
		timeout  time.Duration
	)
	flag.StringVar(&address, "address", "127.0.0.1:1502", "host:port of the simulated device")
	flag.UintVar(&slaveID, "unit", 1, "unit id")
	flag.StringVar(&op, "op", "read-holding", "read-holding|read-input|read-coils|read-discrete|write-register|write-coil")
	flag.UintVar(&addr, "addr", 0, "starting address")
	flag.UintVar(&quantity, "quantity", 1, "quantity to read")
	flag.UintVar(&writeVal, "value", 0, "value to write (0/1 for write-coil)")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "connection timeout")
	flag.Parse()

	handler := mb.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.SlaveId = byte(slaveID)
	if err := handler.Connect(); err != nil {
		log.Fatalf("connect %s: %v", address, err)
	}
	defer handler.Close()

	client := mb.NewClient(handler)

	switch op {
	case "read-holding":
		data, err := client.ReadHoldingRegisters(uint16(addr), uint16(quantity))
		must(err)
		printRegisters(data)
	case "read-input":
		data, err := client.ReadInputRegisters(uint16(addr), uint16(quantity))
		must(err)
		printRegisters(data)
	case "read-coils":
		data, err := client.ReadCoils(uint16(addr), uint16(quantity))
		must(err)
		printBits(data, uint16(quantity))
	case "read-discrete":
		data, err := client.ReadDiscreteInputs(uint16(addr), uint16(quantity))
		must(err)
		printBits(data, uint16(quantity))
	case "write-register":
		_, err := client.WriteSingleRegister(uint16(addr), uint16(writeVal))
		must(err)
		fmt.Printf("wrote register %d = %d\n", addr, writeVal)
	case "write-coil":
		on := uint16(0)
		if writeVal != 0 {
			on = 0xFF00
		}
		_, err := client.WriteSingleCoil(uint16(addr), on)
		must(err)
		fmt.Printf("wrote coil %d = %v\n", addr, writeVal != 0)
	default:
		log.Fatalf("unknown op %q", op)
	}
}

func printRegisters(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		fmt.Printf("reg[%d] = %d\n", i/2, uint16(data[i])<<8|uint16(data[i+1]))
	}
}

func printBits(data []byte, quantity uint16) {
	for i := uint16(0); i < quantity; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		bit := data[byteIdx]&(1<<bitIdx) != 0
		fmt.Printf("bit[%d] = %v\n", i, bit)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
