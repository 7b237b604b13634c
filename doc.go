// Package canard is a pure golang implementation of the UAVCAN/CAN v1
// transport layer for Classic CAN and CAN FD.
//
// The protocol engine itself lives in pkg/transport and never performs any
// I/O : the application drains the transmission queue onto a CAN driver and
// feeds received frames back in. Driver implementations of the Bus interface
// can be found under pkg/can.
package canard
