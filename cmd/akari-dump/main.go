package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/akari-proxy/akari-udp/internal/codec"
)

func main() {
	inputFile := flag.String("input", "", "path to a raw datagram (defaults to stdin)")
	psk := flag.String("psk", "", "pre-shared key (falls back to AKARI_PSK)")
	debug := flag.Bool("debug", false, "also print the raw hex dump")
	flag.Parse()

	if *psk == "" {
		*psk = os.Getenv("AKARI_PSK")
	}
	if *psk == "" {
		fmt.Fprintln(os.Stderr, "akari-dump: -psk or AKARI_PSK is required")
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "akari-dump:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	datagram, err := io.ReadAll(in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-dump: reading input:", err)
		os.Exit(1)
	}

	if *debug {
		fmt.Println(hex.Dump(datagram))
	}

	pkt, err := codec.Decode(datagram, []byte(*psk))
	if err != nil {
		fmt.Fprintln(os.Stderr, "akari-dump: decode failed:", err)
		os.Exit(1)
	}

	printPacket(pkt)
}

func printPacket(p *codec.Packet) {
	h := p.Header
	fmt.Printf("kind:        %s\n", kindName(p.Kind))
	fmt.Printf("version:     %d\n", h.Version)
	fmt.Printf("message_id:  %d\n", h.MessageID)
	fmt.Printf("seq:         %d / %d\n", h.Seq, h.SeqTotal)
	fmt.Printf("flags:       encrypted=%v aggregate=%v has_header=%v\n", h.Encrypted(), h.Aggregate(), h.HasHeaderBlock())

	switch {
	case p.Req != nil:
		fmt.Printf("method:      %s\n", p.Req.Method)
		fmt.Printf("url:         %s\n", p.Req.URL)
		fmt.Printf("body_len:    %d\n", len(p.Req.Body))

	case p.RespFirst != nil:
		fmt.Printf("status:      %d\n", p.RespFirst.StatusCode)
		fmt.Printf("body_len:    %d\n", p.RespFirst.BodyLen)
		printHeaderBlock(p.RespFirst.HeaderBlock)
		fmt.Printf("chunk_len:   %d\n", len(p.RespFirst.Chunk))

	case p.RespChunk != nil:
		fmt.Printf("chunk_len:   %d\n", len(p.RespChunk.Chunk))

	case p.RespHead != nil:
		fmt.Printf("status:      %d\n", p.RespHead.StatusCode)
		fmt.Printf("body_len:    %d\n", p.RespHead.BodyLen)
		fmt.Printf("hdr_idx:     %d / %d\n", p.RespHead.HdrIdx, p.RespHead.HdrChunksTotal)
		fmt.Printf("body_total:  %d\n", p.RespHead.BodySeqTotal)

	case p.RespHeadCont != nil:
		fmt.Printf("hdr_idx:     %d / %d\n", p.RespHeadCont.HdrIdx, p.RespHeadCont.HdrChunksTotal)

	case p.RespBody != nil:
		fmt.Printf("chunk_len:   %d\n", len(p.RespBody.Chunk))
		fmt.Printf("agg_tag:     %v\n", p.RespBody.AggTag != nil)

	case p.Bitmap != nil:
		fmt.Printf("bitmap:      %s\n", hex.EncodeToString(p.Bitmap.Bitmap))

	case p.Ack != nil:
		fmt.Printf("first_lost:  %d\n", p.Ack.FirstLostSeq)

	case p.Error != nil:
		fmt.Printf("error_code:  %d\n", p.Error.ErrorCode)
		fmt.Printf("http_status: %d\n", p.Error.HTTPStatus)
		fmt.Printf("message:     %s\n", p.Error.Message)
	}
}

func printHeaderBlock(block []byte) {
	if len(block) == 0 {
		return
	}
	headers, err := codec.DecodeHeaderBlock(block)
	if err != nil {
		fmt.Printf("headers:     <undecodable: %v>\n", err)
		return
	}
	for name, value := range headers {
		fmt.Printf("  %s: %s\n", name, value)
	}
}

func kindName(k codec.PacketKind) string {
	switch k {
	case codec.KindReq:
		return "req"
	case codec.KindResp:
		return "resp"
	case codec.KindRespHead:
		return "resp-head"
	case codec.KindRespHeadCont:
		return "resp-head-cont"
	case codec.KindRespBody:
		return "resp-body"
	case codec.KindNack:
		return "nack"
	case codec.KindNackHead:
		return "nack-head"
	case codec.KindNackBody:
		return "nack-body"
	case codec.KindAck:
		return "ack"
	case codec.KindError:
		return "error"
	default:
		return "unknown"
	}
}
