package refengine

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/coinbase/mpcstep-go/pkg/mpcstep/engine"
)

// backup encrypts each party's scalar share to an RSA backup key. Both roles
// finish with the identical package.
//
//	1 -> 2: part1
//	2 -> 1: part2
type backup struct {
	Key             *keyShare
	BackupPublicKey []byte
	Own             *backupPart
	Package         []byte
}

type backupPart struct {
	Role        int
	PublicShare []byte
	Ciphertext  []byte
}

type backupPackage struct {
	Version        uint8
	Scheme         shareType
	PublicKey      []byte
	KeyFingerprint []byte
	Parts          []backupPart
}

type backupMsg struct {
	Part backupPart
}

func backupLabel(scheme shareType, role int) []byte {
	return []byte(fmt.Sprintf("mpcstep-backup/%s/%d", scheme, role))
}

func (p *backup) step(e *Engine, role, stage int, in []byte) ([]byte, engine.Flags, error) {
	const op = "backup"
	switch {
	case role == 1 && stage == 0:
		part, err := p.seal(e, role)
		if err != nil {
			return nil, 0, err
		}
		p.Own = part
		out, err := encodeBody(op, &backupMsg{Part: *part})
		return out, 0, err

	case role == 2 && stage == 0:
		var msg backupMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		part, err := p.seal(e, role)
		if err != nil {
			return nil, 0, err
		}
		p.Own = part
		if err := p.assemble(msg.Part); err != nil {
			return nil, 0, err
		}
		out, err := encodeBody(op, &backupMsg{Part: *part})
		return out, engine.FlagFinished, err

	case role == 1 && stage == 1:
		var msg backupMsg
		if err := decodeBody(op, in, &msg); err != nil {
			return nil, 0, err
		}
		if err := p.assemble(msg.Part); err != nil {
			return nil, 0, err
		}
		return nil, engine.FlagFinished, nil
	}
	return nil, 0, unexpectedStage(p.op(), role, stage)
}

func (p *backup) op() opcode {
	if p.Key != nil && p.Key.Type == shareEddsa {
		return opEddsaBackup
	}
	return opEcdsaBackup
}

func (p *backup) seal(e *Engine, role int) (*backupPart, error) {
	pub, err := parseBackupPublicKey(p.BackupPublicKey)
	if err != nil {
		return nil, err
	}
	own, err := publicShare(p.Key.Type, p.Key.X)
	if err != nil {
		return nil, err
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), e.rand, pub, p.Key.X, backupLabel(p.Key.Type, role))
	if err != nil {
		return nil, engine.Errorf("backup", engine.CodeCrypto, "encrypt share: %v", err)
	}
	return &backupPart{Role: role, PublicShare: own, Ciphertext: ct}, nil
}

func (p *backup) assemble(peer backupPart) error {
	const op = "backup"
	if peer.Role != 3-p.Own.Role {
		return engine.Errorf(op, engine.CodeFormat, "part from role %d", peer.Role)
	}
	if !bytes.Equal(peer.PublicShare, p.Key.PeerPublic) {
		return engine.Errorf(op, engine.CodeCrypto, "peer part does not match its public share")
	}
	parts := []backupPart{*p.Own, peer}
	if p.Own.Role == 2 {
		parts[0], parts[1] = parts[1], parts[0]
	}
	pkg := &backupPackage{
		Version:        wireVersion,
		Scheme:         p.Key.Type,
		PublicKey:      p.Key.PublicKey,
		KeyFingerprint: fingerprint(p.BackupPublicKey),
		Parts:          parts,
	}
	if err := checkBackup(pkg, p.Key.Type, p.Key.PublicKey); err != nil {
		return err
	}
	b, err := encodeBody(op, pkg)
	if err != nil {
		return err
	}
	p.Package = b
	return nil
}

func (p *backup) share() *keyShare { return nil }

func (p *backup) wipe() {
	p.Key.wipe()
}

func fingerprint(der []byte) []byte {
	sum := sha256.Sum256(der)
	return sum[:]
}

func parseBackupPublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, engine.Errorf("backup", engine.CodeBadArgument, "backup public key: %v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, engine.Errorf("backup", engine.CodeBadArgument, "backup public key is not RSA")
	}
	return pub, nil
}

func parseBackupPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, engine.Errorf("restore", engine.CodeBadArgument, "backup private key: %v", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, engine.Errorf("restore", engine.CodeBadArgument, "backup private key is not RSA")
	}
	return priv, nil
}

func publicShare(scheme shareType, x []byte) ([]byte, error) {
	switch scheme {
	case shareEcdsa:
		k, ok := secpScalar(x)
		if !ok {
			return nil, engine.Errorf("backup", engine.CodeFormat, "malformed scalar share")
		}
		b, _ := secpEncode(secpBaseMult(k))
		return b, nil
	case shareEddsa:
		k, ok := edScalar(x)
		if !ok {
			return nil, engine.Errorf("backup", engine.CodeFormat, "malformed scalar share")
		}
		return edBaseMult(k).Bytes(), nil
	}
	return nil, engine.Errorf("backup", engine.CodeBadArgument, "cannot back up %s share", scheme)
}

func decodeBackup(scheme shareType, b []byte) (*backupPackage, error) {
	if len(b) == 0 {
		return nil, engine.Errorf("backup", engine.CodeBadArgument, "empty backup")
	}
	var pkg backupPackage
	if err := decodeBody("backup", b, &pkg); err != nil {
		return nil, err
	}
	if pkg.Version != wireVersion {
		return nil, engine.Errorf("backup", engine.CodeFormat, "unsupported backup version %d", pkg.Version)
	}
	if pkg.Scheme != scheme {
		return nil, engine.Errorf("backup", engine.CodeBadArgument, "%s backup, %s expected", pkg.Scheme, scheme)
	}
	return &pkg, nil
}

// checkBackup verifies the public structure of a package: both parts are
// present and their public shares sum to the subject key.
func checkBackup(pkg *backupPackage, scheme shareType, publicKey []byte) error {
	const op = "verify-backup"
	if len(pkg.Parts) != 2 || pkg.Parts[0].Role != 1 || pkg.Parts[1].Role != 2 {
		return engine.Errorf(op, engine.CodeFormat, "backup must hold one part per role")
	}
	switch scheme {
	case shareEcdsa:
		want, ok := secpDecode(publicKey)
		if !ok {
			return engine.Errorf(op, engine.CodeBadArgument, "invalid public key")
		}
		wantBytes, _ := secpEncode(want)
		if !bytes.Equal(pkg.PublicKey, wantBytes) {
			return engine.Errorf(op, engine.CodeCrypto, "backup is for a different key")
		}
		q1, ok1 := secpDecode(pkg.Parts[0].PublicShare)
		q2, ok2 := secpDecode(pkg.Parts[1].PublicShare)
		if !ok1 || !ok2 {
			return engine.Errorf(op, engine.CodeFormat, "invalid public share")
		}
		sum, ok := secpEncode(secpAdd(q1, q2))
		if !ok || !bytes.Equal(sum, wantBytes) {
			return engine.Errorf(op, engine.CodeCrypto, "public shares do not add up to the key")
		}
	case shareEddsa:
		if !bytes.Equal(pkg.PublicKey, publicKey) {
			return engine.Errorf(op, engine.CodeCrypto, "backup is for a different key")
		}
		a1, ok1 := edPoint(pkg.Parts[0].PublicShare)
		a2, ok2 := edPoint(pkg.Parts[1].PublicShare)
		if !ok1 || !ok2 {
			return engine.Errorf(op, engine.CodeFormat, "invalid public share")
		}
		if !bytes.Equal(new(edwards25519.Point).Add(a1, a2).Bytes(), publicKey) {
			return engine.Errorf(op, engine.CodeCrypto, "public shares do not add up to the key")
		}
	default:
		return engine.Errorf(op, engine.CodeBadArgument, "unsupported scheme %s", scheme)
	}
	return nil
}

func verifyBackup(scheme shareType, backupPublicKey, publicKey, b []byte) error {
	pub, err := parseBackupPublicKey(backupPublicKey)
	if err != nil {
		return err
	}
	pkg, err := decodeBackup(scheme, b)
	if err != nil {
		return err
	}
	if !bytes.Equal(pkg.KeyFingerprint, fingerprint(backupPublicKey)) {
		return engine.Errorf("verify-backup", engine.CodeCrypto, "backup was made for another backup key")
	}
	for _, part := range pkg.Parts {
		if len(part.Ciphertext) != pub.Size() {
			return engine.Errorf("verify-backup", engine.CodeFormat, "ciphertext of role %d has wrong size", part.Role)
		}
	}
	return checkBackup(pkg, scheme, publicKey)
}

// restoreScalar decrypts both parts and returns the joint secret scalar.
func restoreScalar(scheme shareType, backupPrivateKey, publicKey, b []byte) ([]byte, error) {
	const op = "restore"
	priv, err := parseBackupPrivateKey(backupPrivateKey)
	if err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, engine.Errorf(op, engine.CodeBadArgument, "backup key: %v", err)
	}
	if err := verifyBackup(scheme, pubDER, publicKey, b); err != nil {
		return nil, err
	}
	pkg, _ := decodeBackup(scheme, b)

	shares := make([][]byte, len(pkg.Parts))
	defer func() {
		for _, s := range shares {
			clear(s)
		}
	}()
	for i, part := range pkg.Parts {
		x, err := rsa.DecryptOAEP(sha256.New(), nil, priv, part.Ciphertext, backupLabel(scheme, part.Role))
		if err != nil {
			return nil, engine.Errorf(op, engine.CodeCrypto, "decrypt part of role %d", part.Role)
		}
		shares[i] = x
		own, err := publicShare(scheme, x)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(own, part.PublicShare) {
			return nil, engine.Errorf(op, engine.CodeCrypto, "part of role %d does not match its public share", part.Role)
		}
	}

	switch scheme {
	case shareEcdsa:
		x1, _ := secpScalar(shares[0])
		x2, _ := secpScalar(shares[1])
		return secpScalarBytes(new(btcec.ModNScalar).Add2(x1, x2)), nil
	default:
		a1, _ := edScalar(shares[0])
		a2, _ := edScalar(shares[1])
		return edwards25519.NewScalar().Add(a1, a2).Bytes(), nil
	}
}
