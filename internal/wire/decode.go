package wire

import "io"

// DecodeClientToServer reads one discriminant-prefixed ClientToServer
// message from r.
func DecodeClientToServer(r io.Reader) (Message, error) {
	disc, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch disc {
	case discProtocolRevision:
		rev, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return ProtocolRevision{Revision: rev}, nil
	case discAuthResponse:
		b, err := readBytes(r, 16)
		if err != nil {
			return nil, err
		}
		var m AuthenticationResponse
		copy(m.Proof[:], b)
		return m, nil
	case discFileRequest:
		path, err := readString(r)
		if err != nil {
			return nil, err
		}
		blockSize, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		targetRate, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		errorRate, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		slowdown, err := readFraction(r)
		if err != nil {
			return nil, err
		}
		speedup, err := readFraction(r)
		if err != nil {
			return nil, err
		}
		return FileRequest{
			Path: path, BlockSize: blockSize, TargetRate: targetRate,
			ErrorRate: errorRate, Slowdown: slowdown, Speedup: speedup,
		}, nil
	case discUdpInit:
		kind, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		port, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		return UdpInit{Method: UdpMethod{Kind: UdpMethodKind(kind), Port: port}}, nil
	case discDirList:
		return DirList{}, nil
	case discDirListEnd:
		return DirListEnd{}, nil
	case discMultiRequest:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return MultiRequest{FileCount: count}, nil
	case discMultiAcknowledgeCount:
		return MultiAcknowledgeCount{}, nil
	case discChunkChecksumRequest:
		return ChunkChecksumRequest{}, nil
	case discRetransmitMany:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if n > maxStringLen {
			return nil, decodeErr("RetransmitMany block count %d exceeds maximum", n)
		}
		indices := make([]uint32, n)
		for i := range indices {
			b, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			indices[i] = b
		}
		return RetransmitMany{BlockIndices: indices}, nil
	default:
		return nil, decodeErr("unknown ClientToServer discriminant %d", disc)
	}
}

// DecodeServerToClient reads one discriminant-prefixed ServerToClient
// message from r.
func DecodeServerToClient(r io.Reader) (Message, error) {
	disc, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	switch disc {
	case discAuthChallenge:
		b, err := readBytes(r, 64)
		if err != nil {
			return nil, err
		}
		var m AuthenticationChallenge
		copy(m.Challenge[:], b)
		return m, nil
	case discAuthStatus:
		ok, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return AuthenticationStatus{OK: ok}, nil
	case discFileRequestSuccess:
		fileSize, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		blockSize, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		blockCount, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		epoch, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		udpPort, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		return FileRequestSuccess{
			FileSize: fileSize, BlockSize: blockSize, BlockCount: blockCount,
			Epoch: epoch, UdpPort: udpPort,
		}, nil
	case discFileRequestError:
		kind, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return FileRequestError{Kind: FileRequestErrorKind(kind)}, nil
	case discDirListHeader:
		status, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		numFiles, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return DirListHeader{Status: DirListStatus(status), NumFiles: numFiles}, nil
	case discDirListFile:
		md, err := readFileMetadata(r)
		if err != nil {
			return nil, err
		}
		return DirListFile{Metadata: md}, nil
	case discMultiFileCount:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		return MultiFileCount{Count: count}, nil
	case discMultiFile:
		md, err := readFileMetadata(r)
		if err != nil {
			return nil, err
		}
		return MultiFile{Metadata: md}, nil
	case discMultiEnd:
		return MultiEnd{}, nil
	case discUdpDone:
		return UdpDone{}, nil
	case discChunkChecksumReply:
		chunkBlocks, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		lastChunkBlocks, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if n > maxStringLen {
			return nil, decodeErr("checksum count %d exceeds maximum", n)
		}
		checksums := make([]uint64, n)
		for i := range checksums {
			c, err := readUint64(r)
			if err != nil {
				return nil, err
			}
			checksums[i] = c
		}
		return ChunkChecksumReply{
			ChunkBlocks: chunkBlocks, LastChunkBlocks: lastChunkBlocks, Checksums: checksums,
		}, nil
	default:
		return nil, decodeErr("unknown ServerToClient discriminant %d", disc)
	}
}
